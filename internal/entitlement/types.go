// Package entitlement is the backend's record of paid subscriptions.
// An activation is keyed by (chain id, transaction hash): one on-chain
// transfer buys exactly one extension, no matter how many times it is
// reported.
package entitlement

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no record exists for the key.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate means an activation for the same (chain id, tx hash)
	// was inserted concurrently; the caller re-reads the stored row.
	ErrDuplicate = errors.New("activation already recorded")
)

// Activation is one processed payment.
type Activation struct {
	ID          uuid.UUID
	Wallet      string
	Plan        string
	ChainID     int64
	TxHash      string
	AmountMinor string
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

// Entitlement is the current subscription standing of a wallet.
type Entitlement struct {
	Wallet    string
	Plan      string
	ExpiresAt time.Time
}

// Active reports whether the entitlement covers the given instant.
func (e Entitlement) Active(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
