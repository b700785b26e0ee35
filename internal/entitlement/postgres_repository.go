package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/chainpass/checkout/internal/config"
)

// PostgresRepository implements Repository using PostgreSQL. The unique
// constraint on (chain_id, tx_hash) is the idempotency guarantee: two
// concurrent activations of the same transfer race on the insert and the
// loser gets ErrDuplicate.
type PostgresRepository struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresRepository creates a repository with its own connection
// pool, sized per the database configuration.
func NewPostgresRepository(cfg config.DatabaseConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	applyPoolLimits(db, cfg)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := &PostgresRepository{db: db, ownsDB: true}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return repo, nil
}

// applyPoolLimits applies the configured connection pool bounds. Zero
// values leave the driver defaults in place.
func applyPoolLimits(db *sql.DB, cfg config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
}

// NewPostgresRepositoryWithDB creates a repository over a shared connection.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	repo := &PostgresRepository{db: db, ownsDB: false}
	// Table may already exist; creation is idempotent.
	_ = repo.createTables()
	return repo
}

func (r *PostgresRepository) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS activations (
			id           TEXT PRIMARY KEY,
			wallet       TEXT NOT NULL,
			plan         TEXT NOT NULL,
			chain_id     BIGINT NOT NULL,
			tx_hash      TEXT NOT NULL,
			amount_minor TEXT NOT NULL,
			activated_at TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (chain_id, tx_hash)
		);

		CREATE INDEX IF NOT EXISTS idx_activations_wallet
			ON activations(wallet);

		CREATE TABLE IF NOT EXISTS entitlements (
			wallet     TEXT PRIMARY KEY,
			plan       TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := r.db.Exec(query)
	return err
}

func (r *PostgresRepository) GetActivation(ctx context.Context, chainID int64, txHash string) (Activation, error) {
	query := `
		SELECT id, wallet, plan, chain_id, tx_hash, amount_minor, activated_at, expires_at
		FROM activations
		WHERE chain_id = $1 AND tx_hash = $2
	`

	var act Activation
	var id string
	err := r.db.QueryRowContext(ctx, query, chainID, normalizeHash(txHash)).Scan(
		&id, &act.Wallet, &act.Plan, &act.ChainID, &act.TxHash,
		&act.AmountMinor, &act.ActivatedAt, &act.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Activation{}, ErrNotFound
	}
	if err != nil {
		return Activation{}, fmt.Errorf("query activation: %w", err)
	}

	if parseErr := act.ID.UnmarshalText([]byte(id)); parseErr != nil {
		return Activation{}, fmt.Errorf("parse activation id %q: %w", id, parseErr)
	}
	return act, nil
}

func (r *PostgresRepository) RecordActivation(ctx context.Context, act Activation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO activations (id, wallet, plan, chain_id, tx_hash, amount_minor, activated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, insert,
		act.ID.String(), act.Wallet, act.Plan, act.ChainID, normalizeHash(act.TxHash),
		act.AmountMinor, act.ActivatedAt, act.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert activation: %w", err)
	}

	upsert := `
		INSERT INTO entitlements (wallet, plan, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet) DO UPDATE
		SET plan = EXCLUDED.plan, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsert, normalizeWallet(act.Wallet), act.Plan, act.ExpiresAt, time.Now()); err != nil {
		return fmt.Errorf("upsert entitlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetEntitlement(ctx context.Context, wallet string) (Entitlement, error) {
	query := `SELECT wallet, plan, expires_at FROM entitlements WHERE wallet = $1`

	var ent Entitlement
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(wallet)).Scan(&ent.Wallet, &ent.Plan, &ent.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entitlement{}, ErrNotFound
	}
	if err != nil {
		return Entitlement{}, fmt.Errorf("query entitlement: %w", err)
	}
	return ent, nil
}

func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
