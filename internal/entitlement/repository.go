package entitlement

import "context"

// Repository persists activations and the derived entitlements.
type Repository interface {
	// GetActivation returns the activation recorded for (chainID, txHash),
	// or ErrNotFound.
	GetActivation(ctx context.Context, chainID int64, txHash string) (Activation, error)

	// RecordActivation stores an activation and the updated entitlement
	// atomically. Returns ErrDuplicate when (chainID, txHash) already
	// exists.
	RecordActivation(ctx context.Context, act Activation) error

	// GetEntitlement returns the entitlement for a wallet, or ErrNotFound.
	GetEntitlement(ctx context.Context, wallet string) (Entitlement, error)

	// Close releases repository resources.
	Close() error
}
