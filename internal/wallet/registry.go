package wallet

import (
	"fmt"
	"sync"
)

// preferenceOrder decides which provider wins when several are available
// and the caller expressed no preference.
var preferenceOrder = []string{"metamask", "okx", "coinbase", "trust", "walletconnect"}

// Registry holds the known providers and applies the selection policy.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Re-registering an ID replaces the previous one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns a provider by ID.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q not registered", ErrNoProvider, id)
	}
	return p, nil
}

// Available returns the available providers in preference order,
// followed by any registered providers outside the known list.
func (r *Registry) Available() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	seen := make(map[string]bool)

	for _, id := range preferenceOrder {
		if p, ok := r.providers[id]; ok && p.Available() {
			out = append(out, p)
			seen[id] = true
		}
	}
	for id, p := range r.providers {
		if !seen[id] && p.Available() {
			out = append(out, p)
		}
	}
	return out
}

// Select picks the provider to connect with. A non-empty preferred ID is
// honored when that provider is available; otherwise the first available
// provider in preference order wins. No available provider is an error,
// not a silent no-op.
func (r *Registry) Select(preferred string) (Provider, error) {
	if preferred != "" {
		p, err := r.Get(preferred)
		if err == nil && p.Available() {
			return p, nil
		}
		// Fall through: preferred provider missing or not installed.
	}

	available := r.Available()
	if len(available) == 0 {
		return nil, ErrNoProvider
	}
	return available[0], nil
}
