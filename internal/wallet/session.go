package wallet

import (
	"context"
	"sync"
)

// Session is a live connection to one wallet provider. It tracks the
// active account and chain, and fans provider change events out to
// subscribers. A session outlives individual payments; the payment flow
// re-reads the chain at submission time rather than trusting this cache.
type Session struct {
	provider Provider

	mu      sync.RWMutex
	account string
	chainID int64
	closed  bool

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int

	unsubscribe func()
}

func newSession(p Provider, account string, chainID int64) *Session {
	s := &Session{
		provider:    p,
		account:     account,
		chainID:     chainID,
		subscribers: make(map[int]func(Event)),
	}
	s.unsubscribe = p.Subscribe(s.handleEvent)
	return s
}

// Provider returns the underlying provider.
func (s *Session) Provider() Provider {
	return s.provider
}

// Account returns the active account address.
func (s *Session) Account() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// ChainID returns the last observed chain id. Callers that are about to
// move funds must confirm against the provider directly.
func (s *Session) ChainID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

// Connected reports whether the session still has an account.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.account != ""
}

// RefreshChainID re-reads the chain from the provider and updates the cache.
func (s *Session) RefreshChainID(ctx context.Context) (int64, error) {
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return 0, normalizeProviderError(err)
	}

	s.mu.Lock()
	s.chainID = chainID
	s.mu.Unlock()

	return chainID, nil
}

// Subscribe registers a listener for session events and returns an
// unsubscribe function.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// handleEvent updates cached state and forwards the event to subscribers.
func (s *Session) handleEvent(ev Event) {
	s.mu.Lock()
	switch ev.Kind {
	case EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			s.account = ""
		} else {
			s.account = ev.Accounts[0]
		}
	case EventChainChanged:
		s.chainID = ev.ChainID
	case EventDisconnected:
		s.account = ""
	}
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Close detaches from the provider. The provider itself stays usable for
// future sessions.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.account = ""
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return nil
}
