// Package wallet abstracts over wallet providers and implements the
// connection flow: provider discovery, account requests, bounded retry on
// busy providers, and change notifications for accounts and networks.
package wallet

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Sentinel errors surfaced by providers. Provider-specific failure codes
// are normalized to these before they leave the package.
var (
	ErrNoProvider     = errors.New("no wallet provider available")
	ErrProviderLocked = errors.New("wallet is locked")
	ErrUserRejected   = errors.New("user rejected the request")
	ErrProviderBusy   = errors.New("wallet has a pending request")
	ErrNoAccounts     = errors.New("wallet returned no accounts")
	ErrTimeout        = errors.New("wallet connection timed out")
)

// Standard provider error codes (EIP-1193 / EIP-1474).
const (
	codeUserRejected = 4001
	codeBusy         = -32002
)

// TokenTransfer describes one ERC-20 transfer for a provider to sign
// and broadcast.
type TokenTransfer struct {
	ChainID int64
	Token   string
	To      string
	Amount  *big.Int
}

// EventKind distinguishes provider change notifications.
type EventKind int

const (
	EventAccountsChanged EventKind = iota
	EventChainChanged
	EventDisconnected
)

// Event is a provider-initiated notification.
type Event struct {
	Kind     EventKind
	Accounts []string
	ChainID  int64
}

// Provider is one wallet implementation the connector can drive.
// Implementations must be safe for concurrent use.
type Provider interface {
	// ID returns the stable provider identifier ("metamask", "okx", ...).
	ID() string

	// Available reports whether the provider is injected/installed in
	// the current environment.
	Available() bool

	// Locked reports whether the wallet is present but locked.
	Locked(ctx context.Context) (bool, error)

	// RequestAccounts prompts for connection and returns the authorized
	// accounts. Returns ErrUserRejected or ErrProviderBusy on the
	// corresponding provider error codes.
	RequestAccounts(ctx context.Context) ([]string, error)

	// ChainID returns the chain the provider is currently on.
	ChainID(ctx context.Context) (int64, error)

	// SendToken signs and broadcasts an ERC-20 transfer, returning the
	// transaction hash. It must broadcast at most once per call.
	SendToken(ctx context.Context, transfer TokenTransfer) (string, error)

	// Subscribe registers a change listener and returns an unsubscribe func.
	Subscribe(fn func(Event)) (unsubscribe func())

	// Close releases provider resources.
	Close() error
}

// ProviderError carries a raw provider error code alongside the message.
// normalizeProviderError maps known codes to package sentinels.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// normalizeProviderError maps provider error codes onto the package's
// sentinel errors so callers never switch on raw codes.
func normalizeProviderError(err error) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		switch perr.Code {
		case codeUserRejected:
			return ErrUserRejected
		case codeBusy:
			return ErrProviderBusy
		}
	}
	return err
}

// RetryPolicy bounds how often a busy provider is re-asked for accounts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles after.
	Backoff time.Duration
}

// DefaultRetryPolicy retries a busy provider twice after the initial
// attempt, so a stuck popup never loops forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}
}
