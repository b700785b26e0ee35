package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/wallet"
)

// TransferWallet is the slice of a wallet provider the submitter drives.
type TransferWallet interface {
	ChainID(ctx context.Context) (int64, error)
	SendToken(ctx context.Context, transfer wallet.TokenTransfer) (string, error)
}

// Submitter hands a transfer to the wallet for signing and broadcast.
// It re-reads the wallet's chain immediately before submission: the user
// can switch networks at any moment, and a transfer signed for the wrong
// chain either fails or, worse, moves funds on a network the receiver
// does not watch.
type Submitter struct {
	wallet TransferWallet
}

// NewSubmitter creates a submitter over a wallet.
func NewSubmitter(w TransferWallet) *Submitter {
	return &Submitter{wallet: w}
}

// Submit broadcasts one ERC-20 transfer and returns the transaction hash.
// The wallet is asked to sign at most once per call; every retry decision
// belongs to the caller, which must construct a fresh intent first.
func (s *Submitter) Submit(ctx context.Context, chainID int64, token, to string, amount *big.Int) (string, error) {
	log := logger.FromContext(ctx)

	walletChain, err := s.wallet.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("read wallet chain before submit: %w", err)
	}
	if walletChain != chainID {
		log.Warn().
			Int64("wallet_chain", walletChain).
			Int64("payment_chain", chainID).
			Msg("chain.network_mismatch")
		return "", fmt.Errorf("%w: wallet on %d, payment on %d", ErrNetworkMismatch, walletChain, chainID)
	}

	txHash, err := s.wallet.SendToken(ctx, wallet.TokenTransfer{
		ChainID: chainID,
		Token:   token,
		To:      to,
		Amount:  amount,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return "", err
		}
		return "", fmt.Errorf("submit transfer: %w", err)
	}

	log.Info().
		Int64("chain_id", chainID).
		Str("tx_hash", logger.TruncateHash(txHash)).
		Msg("chain.transfer_submitted")

	return txHash, nil
}
