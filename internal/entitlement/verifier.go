package entitlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainpass/checkout/internal/chain"
	"github.com/chainpass/checkout/internal/logger"
)

var (
	// ErrWrongRecipient means the transfer paid someone other than the
	// configured receiving address.
	ErrWrongRecipient = errors.New("transfer recipient is not the receiving address")

	// ErrAmountMismatch means the transfer paid less than the plan price.
	ErrAmountMismatch = errors.New("transfer amount below plan price")

	// ErrNoTransfer means the transaction confirmed but contains no token
	// transfer to inspect.
	ErrNoTransfer = errors.New("transaction contains no matching token transfer")
)

// VerifiedTransfer is the on-chain evidence extracted from a receipt.
type VerifiedTransfer struct {
	Payer  string
	Amount *big.Int
}

// TransferVerifier checks that a claimed payment really happened on chain.
type TransferVerifier interface {
	Verify(ctx context.Context, chainID int64, txHash, token, receiver string, minAmount *big.Int) (VerifiedTransfer, error)
}

// ChainVerifier verifies transfers against receipts fetched from RPC.
type ChainVerifier struct {
	watcher *chain.Watcher
}

// NewChainVerifier creates a verifier over a receipt watcher.
func NewChainVerifier(watcher *chain.Watcher) *ChainVerifier {
	return &ChainVerifier{watcher: watcher}
}

// Verify fetches the receipt and checks the token, recipient, and amount.
// Over-payment is accepted; under-payment is not. The transfer may land in
// any log position, so all logs of the token contract are scanned.
func (v *ChainVerifier) Verify(ctx context.Context, chainID int64, txHash, token, receiver string, minAmount *big.Int) (VerifiedTransfer, error) {
	receipt, err := v.watcher.Check(ctx, chainID, txHash)
	if err != nil {
		return VerifiedTransfer{}, err
	}

	tokenAddr := common.HexToAddress(token)
	receiverAddr := common.HexToAddress(receiver)

	var lastMismatch error

	for _, entry := range receipt.Logs {
		if entry.Address != tokenAddr {
			continue
		}
		from, to, value, parseErr := chain.ParseTransferLog(entry.Topics, entry.Data)
		if parseErr != nil {
			continue
		}

		if to != receiverAddr {
			lastMismatch = fmt.Errorf("%w: paid %s", ErrWrongRecipient, logger.TruncateHash(to.Hex()))
			continue
		}
		if value.Cmp(minAmount) < 0 {
			lastMismatch = fmt.Errorf("%w: paid %s, need %s", ErrAmountMismatch, value, minAmount)
			continue
		}

		return VerifiedTransfer{Payer: from.Hex(), Amount: value}, nil
	}

	if lastMismatch != nil {
		return VerifiedTransfer{}, lastMismatch
	}
	return VerifiedTransfer{}, ErrNoTransfer
}
