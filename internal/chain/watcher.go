package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/metrics"
)

// Watcher polls for a transaction receipt until the transaction is
// confirmed, reverted, or the deadline passes.
type Watcher struct {
	pool         *Pool
	pollInterval time.Duration
	timeout      time.Duration
}

// NewWatcher creates a watcher with the given polling cadence and
// confirmation deadline.
func NewWatcher(pool *Pool, pollInterval, timeout time.Duration) *Watcher {
	return &Watcher{pool: pool, pollInterval: pollInterval, timeout: timeout}
}

// Await blocks until the transaction confirms or fails. A deadline or a
// cancelled context returns ErrStillPending wrapped with context: the
// transaction may yet confirm, so the caller must keep the hash.
func (w *Watcher) Await(ctx context.Context, chainID int64, txHash string) (*types.Receipt, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	defer metrics.ObserveRPC("await_receipt", start)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.Check(ctx, chainID, txHash)
		switch {
		case err == nil:
			log.Info().
				Int64("chain_id", chainID).
				Str("tx_hash", logger.TruncateHash(txHash)).
				Uint64("block", receipt.BlockNumber.Uint64()).
				Dur("waited", time.Since(start)).
				Msg("chain.transfer_confirmed")
			return receipt, nil
		case errors.Is(err, ErrReverted):
			return receipt, err
		case errors.Is(err, ErrStillPending):
			// keep polling
		default:
			// Transient RPC failure: log and keep polling until deadline.
			log.Debug().Err(err).
				Str("tx_hash", logger.TruncateHash(txHash)).
				Msg("chain.receipt_poll_failed")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s after %s", ErrStillPending, txHash, time.Since(start).Round(time.Second))
		case <-ticker.C:
		}
	}
}

// Check performs a single receipt lookup. It returns ErrStillPending when
// the transaction is not yet mined and ErrReverted (with the receipt) when
// it was mined but failed.
func (w *Watcher) Check(ctx context.Context, chainID int64, txHash string) (*types.Receipt, error) {
	backend, err := w.pool.Backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrStillPending
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, txHash)
	}
	return receipt, nil
}
