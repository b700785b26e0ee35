package entitlement

import (
	"context"
	"strings"
	"sync"
)

// MemoryRepository is an in-memory Repository for development and tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	activations  map[activationKey]Activation
	entitlements map[string]Entitlement
}

type activationKey struct {
	chainID int64
	txHash  string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		activations:  make(map[activationKey]Activation),
		entitlements: make(map[string]Entitlement),
	}
}

func (r *MemoryRepository) GetActivation(ctx context.Context, chainID int64, txHash string) (Activation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	act, ok := r.activations[activationKey{chainID: chainID, txHash: normalizeHash(txHash)}]
	if !ok {
		return Activation{}, ErrNotFound
	}
	return act, nil
}

func (r *MemoryRepository) RecordActivation(ctx context.Context, act Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := activationKey{chainID: act.ChainID, txHash: normalizeHash(act.TxHash)}
	if _, exists := r.activations[key]; exists {
		return ErrDuplicate
	}

	r.activations[key] = act
	r.entitlements[normalizeWallet(act.Wallet)] = Entitlement{
		Wallet:    act.Wallet,
		Plan:      act.Plan,
		ExpiresAt: act.ExpiresAt,
	}
	return nil
}

func (r *MemoryRepository) GetEntitlement(ctx context.Context, wallet string) (Entitlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, ok := r.entitlements[normalizeWallet(wallet)]
	if !ok {
		return Entitlement{}, ErrNotFound
	}
	return ent, nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

// Hashes and addresses arrive in mixed case depending on the wallet;
// keys are compared lowercased.
func normalizeHash(h string) string {
	return strings.ToLower(h)
}

func normalizeWallet(w string) string {
	return strings.ToLower(w)
}
