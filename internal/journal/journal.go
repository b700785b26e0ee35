// Package journal is the client-side record of payment attempts, kept in
// a local sqlite file. A broadcast transfer whose activation never
// completed survives process restarts here, so the reconcile command can
// finish the job with the stored hash and chain id.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound means no journal entry exists for the key.
var ErrNotFound = errors.New("journal entry not found")

// Status values for a journal entry.
const (
	StatusBroadcast = "broadcast"
	StatusConfirmed = "confirmed"
	StatusActivated = "activated"
	StatusFailed    = "failed"
)

// Entry is one payment attempt.
type Entry struct {
	ID          int64
	Plan        string
	Wallet      string
	ChainID     int64
	TxHash      string
	AmountMinor string
	Status      string
	Detail      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Journal persists entries in sqlite.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal file, creating parent directories
// as needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// sqlite allows one writer; a second connection would just contend.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}
	return j, nil
}

func (j *Journal) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS attempts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			plan         TEXT NOT NULL,
			wallet       TEXT NOT NULL,
			chain_id     INTEGER NOT NULL,
			tx_hash      TEXT NOT NULL UNIQUE,
			amount_minor TEXT NOT NULL,
			status       TEXT NOT NULL,
			detail       TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts(status);
	`
	_, err := j.db.Exec(query)
	return err
}

// RecordBroadcast stores a freshly broadcast transfer.
func (j *Journal) RecordBroadcast(ctx context.Context, plan, wallet string, chainID int64, txHash, amountMinor string) (Entry, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO attempts (plan, wallet, chain_id, tx_hash, amount_minor, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := j.db.ExecContext(ctx, query, plan, wallet, chainID, txHash, amountMinor, StatusBroadcast, now, now)
	if err != nil {
		return Entry{}, fmt.Errorf("record broadcast: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("journal insert id: %w", err)
	}

	return Entry{
		ID:          id,
		Plan:        plan,
		Wallet:      wallet,
		ChainID:     chainID,
		TxHash:      txHash,
		AmountMinor: amountMinor,
		Status:      StatusBroadcast,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// UpdateStatus moves an entry to a new status with an optional detail.
func (j *Journal) UpdateStatus(ctx context.Context, txHash, status, detail string) error {
	query := `UPDATE attempts SET status = ?, detail = ?, updated_at = ? WHERE tx_hash = ?`
	res, err := j.db.ExecContext(ctx, query, status, detail, time.Now().UTC(), txHash)
	if err != nil {
		return fmt.Errorf("update journal status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("journal rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the entry for a transaction hash.
func (j *Journal) Get(ctx context.Context, txHash string) (Entry, error) {
	query := `
		SELECT id, plan, wallet, chain_id, tx_hash, amount_minor, status, detail, created_at, updated_at
		FROM attempts WHERE tx_hash = ?
	`
	var e Entry
	err := j.db.QueryRowContext(ctx, query, txHash).Scan(
		&e.ID, &e.Plan, &e.Wallet, &e.ChainID, &e.TxHash,
		&e.AmountMinor, &e.Status, &e.Detail, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("query journal entry: %w", err)
	}
	return e, nil
}

// Unfinished returns entries whose activation has not completed, oldest
// first. These are the candidates for the reconcile command.
func (j *Journal) Unfinished(ctx context.Context) ([]Entry, error) {
	query := `
		SELECT id, plan, wallet, chain_id, tx_hash, amount_minor, status, detail, created_at, updated_at
		FROM attempts
		WHERE status IN (?, ?)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := j.db.QueryContext(ctx, query, StatusBroadcast, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("query unfinished entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.Plan, &e.Wallet, &e.ChainID, &e.TxHash,
			&e.AmountMinor, &e.Status, &e.Detail, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// List returns the most recent entries, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, plan, wallet, chain_id, tx_hash, amount_minor, status, detail, created_at, updated_at
		FROM attempts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.Plan, &e.Wallet, &e.ChainID, &e.TxHash,
			&e.AmountMinor, &e.Status, &e.Detail, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
