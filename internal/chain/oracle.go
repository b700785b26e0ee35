package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainpass/checkout/internal/circuitbreaker"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/metrics"
	"github.com/chainpass/checkout/internal/rpcutil"
)

// Oracle reads token state from chain. Balance is always fetched fresh;
// decimals are immutable per contract and cached after the first read.
type Oracle struct {
	pool     *Pool
	breakers *circuitbreaker.Manager
	retry    rpcutil.RetryConfig

	mu       sync.RWMutex
	decimals map[decimalsKey]uint8
}

type decimalsKey struct {
	chainID int64
	token   common.Address
}

// NewOracle creates an oracle over a backend pool.
func NewOracle(pool *Pool, breakers *circuitbreaker.Manager) *Oracle {
	return &Oracle{
		pool:     pool,
		breakers: breakers,
		retry:    rpcutil.DefaultRetryConfig(),
		decimals: make(map[decimalsKey]uint8),
	}
}

// Balance returns the token balance of owner in minor units.
func (o *Oracle) Balance(ctx context.Context, chainID int64, token, owner string) (*big.Int, error) {
	start := time.Now()
	defer metrics.ObserveRPC("balance_of", start)

	calldata, err := parsedERC20.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("encode balanceOf: %w", err)
	}

	raw, err := o.call(ctx, "chain.balance_of", chainID, token, calldata)
	if err != nil {
		return nil, err
	}

	values, err := parsedERC20.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned unexpected type %T", values[0])
	}
	return balance, nil
}

// Decimals returns the token's decimals, reading the contract on first
// use and caching afterwards. Decimals differ across deployments of the
// same symbol, so this is never assumed.
func (o *Oracle) Decimals(ctx context.Context, chainID int64, token string) (uint8, error) {
	key := decimalsKey{chainID: chainID, token: common.HexToAddress(token)}

	o.mu.RLock()
	cached, ok := o.decimals[key]
	o.mu.RUnlock()
	if ok {
		return cached, nil
	}

	start := time.Now()
	defer metrics.ObserveRPC("decimals", start)

	calldata, err := parsedERC20.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("encode decimals: %w", err)
	}

	raw, err := o.call(ctx, "chain.decimals", chainID, token, calldata)
	if err != nil {
		return 0, err
	}

	values, err := parsedERC20.Unpack("decimals", raw)
	if err != nil {
		return 0, fmt.Errorf("decode decimals: %w", err)
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals returned unexpected type %T", values[0])
	}

	o.mu.Lock()
	o.decimals[key] = decimals
	o.mu.Unlock()

	log := logger.FromContext(ctx)
	log.Debug().
		Int64("chain_id", chainID).
		Str("token", logger.TruncateHash(token)).
		Uint8("decimals", decimals).
		Msg("chain.decimals_cached")

	return decimals, nil
}

// call runs an eth_call through the breaker and retry layers.
func (o *Oracle) call(ctx context.Context, op string, chainID int64, token string, calldata []byte) ([]byte, error) {
	backend, err := o.pool.Backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	contract := common.HexToAddress(token)
	msg := ethereum.CallMsg{To: &contract, Data: calldata}

	raw, err := rpcutil.WithRetryCustom(ctx, op, o.retry, func() ([]byte, error) {
		result, execErr := o.breakers.Execute(circuitbreaker.ServiceChainRPC, func() (interface{}, error) {
			return backend.CallContract(ctx, msg, nil)
		})
		if execErr != nil {
			return nil, execErr
		}
		return result.([]byte), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s on chain %d: %v", ErrRPCUnavailable, op, chainID, err)
	}
	return raw, nil
}
