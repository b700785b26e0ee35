package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainpass/checkout/internal/logger"
)

// Connector runs the connection flow against the registry: select a
// provider, check the lock state, request accounts with a bounded retry
// when the provider is busy, and hand back a live session. It tracks the
// session it handed out: reconnecting to an unlocked wallet reuses it
// instead of prompting again.
type Connector struct {
	registry *Registry
	retry    RetryPolicy
	timeout  time.Duration

	mu      sync.Mutex
	session *Session
}

// ConnectorOption customizes a Connector.
type ConnectorOption func(*Connector)

// WithRetryPolicy overrides the busy-provider retry policy.
func WithRetryPolicy(p RetryPolicy) ConnectorOption {
	return func(c *Connector) { c.retry = p }
}

// WithConnectTimeout bounds the whole connection flow.
func WithConnectTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.timeout = d }
}

// NewConnector creates a connector over a registry.
func NewConnector(registry *Registry, opts ...ConnectorOption) *Connector {
	c := &Connector{
		registry: registry,
		retry:    DefaultRetryPolicy(),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes a session with the preferred provider, or the best
// available one when preferred is empty. Every failure is reported to the
// caller; the flow never swallows an error into silence.
func (c *Connector) Connect(ctx context.Context, preferred string) (*Session, error) {
	log := logger.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	provider, err := c.registry.Select(preferred)
	if err != nil {
		return nil, err
	}

	// Reconnecting to the provider of a live session: if the wallet is
	// still unlocked the session is returned as-is, without re-prompting.
	// A wallet that locked in the meantime invalidates the session; it is
	// closed and the full flow runs again.
	if existing := c.current(); existing != nil && existing.Connected() && existing.Provider() == provider {
		locked, err := provider.Locked(ctx)
		if err != nil {
			return nil, fmt.Errorf("check wallet lock state: %w", normalizeProviderError(err))
		}
		if !locked {
			log.Debug().Str("provider", provider.ID()).Msg("wallet.session_reused")
			return existing, nil
		}
		log.Info().Str("provider", provider.ID()).Msg("wallet.locked_reconnecting")
		_ = existing.Close()
	}

	log.Debug().Str("provider", provider.ID()).Msg("wallet.connect_start")

	locked, err := provider.Locked(ctx)
	if err != nil {
		return nil, fmt.Errorf("check wallet lock state: %w", normalizeProviderError(err))
	}
	if locked {
		// Requesting accounts on a locked wallet triggers the unlock
		// prompt, so this is informational, not fatal.
		log.Debug().Str("provider", provider.ID()).Msg("wallet.locked_prompting_unlock")
	}

	accounts, err := c.requestAccounts(ctx, provider)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		log.Warn().Err(err).Str("provider", provider.ID()).Msg("wallet.connect_failed")
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read wallet chain: %w", normalizeProviderError(err))
	}

	log.Info().
		Str("provider", provider.ID()).
		Str("account", logger.TruncateHash(accounts[0])).
		Int64("chain_id", chainID).
		Msg("wallet.connected")

	session := newSession(provider, accounts[0], chainID)

	c.mu.Lock()
	prev := c.session
	c.session = session
	c.mu.Unlock()
	if prev != nil {
		// A stale session from another provider would keep its
		// subscription alive forever.
		_ = prev.Close()
	}

	return session, nil
}

// current returns the session from the last successful Connect, which may
// have disconnected since.
func (c *Connector) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// requestAccounts asks for accounts, retrying only when the provider
// reports a pending request. Rejection by the user is final: re-prompting
// after an explicit "no" is hostile, so ErrUserRejected is never retried.
func (c *Connector) requestAccounts(ctx context.Context, provider Provider) ([]string, error) {
	delay := c.retry.Backoff

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		accounts, err := provider.RequestAccounts(ctx)
		err = normalizeProviderError(err)
		if err == nil {
			return accounts, nil
		}
		if !errors.Is(err, ErrProviderBusy) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("wallet still busy after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}
