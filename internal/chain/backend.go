// Package chain talks to EVM networks: reading token balances and
// decimals, submitting transfers through a connected wallet, and watching
// transactions until they confirm.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrRPCUnavailable  = errors.New("chain rpc unavailable")
	ErrNetworkMismatch = errors.New("wallet network does not match payment network")
	ErrReverted        = errors.New("transaction reverted")
	ErrStillPending    = errors.New("transaction still pending")
	ErrNoRPCURL        = errors.New("no rpc url configured for chain")
)

// Backend is the subset of an Ethereum client the package reads through.
// *ethclient.Client satisfies it; tests substitute fakes.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dialer opens a backend for an RPC URL. The default uses ethclient.
type Dialer func(ctx context.Context, url string) (Backend, error)

func defaultDialer(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Pool hands out one backend per chain, dialing lazily and caching the
// connection for the process lifetime.
type Pool struct {
	rpcURLs map[int64]string
	dial    Dialer

	mu       sync.Mutex
	backends map[int64]Backend
}

// NewPool creates a pool over the configured RPC URLs.
func NewPool(rpcURLs map[int64]string) *Pool {
	return &Pool{
		rpcURLs:  rpcURLs,
		dial:     defaultDialer,
		backends: make(map[int64]Backend),
	}
}

// NewPoolWithDialer creates a pool with a custom dialer, used in tests.
func NewPoolWithDialer(rpcURLs map[int64]string, dial Dialer) *Pool {
	p := NewPool(rpcURLs)
	p.dial = dial
	return p
}

// Backend returns the backend for a chain, dialing on first use.
func (p *Pool) Backend(ctx context.Context, chainID int64) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.backends[chainID]; ok {
		return b, nil
	}

	url, ok := p.rpcURLs[chainID]
	if !ok || url == "" {
		return nil, fmt.Errorf("%w %d", ErrNoRPCURL, chainID)
	}

	b, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w: %v", chainID, ErrRPCUnavailable, err)
	}
	p.backends[chainID] = b
	return b, nil
}

// Close closes every dialed backend that supports closing.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.backends {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
	}
	p.backends = make(map[int64]Backend)
	return nil
}
