package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainpass/checkout/internal/chain"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/metrics"
	"github.com/chainpass/checkout/internal/payconfig"
)

// DecimalsReader reads a token's decimals from chain.
type DecimalsReader interface {
	Decimals(ctx context.Context, chainID int64, token string) (uint8, error)
}

// ActivationOutcome is what the service returns for a processed payment.
type ActivationOutcome struct {
	Activation Activation
	Replayed   bool
}

// Service processes activations. Activate is idempotent on
// (chain id, tx hash): the store is consulted before any chain work, and
// the unique constraint catches the race two concurrent requests for the
// same transfer would otherwise win together.
type Service struct {
	repo     Repository
	resolver *payconfig.Resolver
	verifier TransferVerifier
	oracle   DecimalsReader
	now      func() time.Time
}

// NewService assembles an activation service.
func NewService(repo Repository, resolver *payconfig.Resolver, verifier TransferVerifier, oracle DecimalsReader) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		verifier: verifier,
		oracle:   oracle,
		now:      time.Now,
	}
}

// Activate verifies the transfer on chain and extends the payer's
// entitlement. Reporting the same transaction again returns the stored
// activation unchanged.
func (s *Service) Activate(ctx context.Context, planName string, chainID int64, txHash string) (ActivationOutcome, error) {
	log := logger.FromContext(ctx)

	// Replay short-circuits before any RPC work.
	if stored, err := s.repo.GetActivation(ctx, chainID, txHash); err == nil {
		metrics.ActivationRequests.WithLabelValues("replayed").Inc()
		return ActivationOutcome{Activation: stored, Replayed: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		metrics.ActivationRequests.WithLabelValues("error").Inc()
		return ActivationOutcome{}, fmt.Errorf("lookup activation: %w", err)
	}

	plan, err := s.resolver.Plan(planName)
	if err != nil {
		metrics.ActivationRequests.WithLabelValues("rejected").Inc()
		return ActivationOutcome{}, err
	}

	terms, err := s.resolver.Terms(chainID)
	if err != nil {
		metrics.ActivationRequests.WithLabelValues("rejected").Inc()
		return ActivationOutcome{}, err
	}

	decimals, err := s.oracle.Decimals(ctx, chainID, terms.Network.TokenContract)
	if err != nil {
		metrics.ActivationRequests.WithLabelValues("error").Inc()
		return ActivationOutcome{}, err
	}
	required := chain.RequiredMinorUnits(plan.Price, decimals)

	verified, err := s.verifier.Verify(ctx, chainID, txHash, terms.Network.TokenContract, terms.Receiver, required)
	if err != nil {
		metrics.ActivationRequests.WithLabelValues("rejected").Inc()
		return ActivationOutcome{}, err
	}

	now := s.now()
	act := Activation{
		ID:          uuid.New(),
		Wallet:      verified.Payer,
		Plan:        plan.Name,
		ChainID:     chainID,
		TxHash:      txHash,
		AmountMinor: verified.Amount.String(),
		ActivatedAt: now,
		ExpiresAt:   s.nextExpiry(ctx, verified.Payer, plan, now),
	}

	if err := s.repo.RecordActivation(ctx, act); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost the insert race; the other request's row is the answer.
			stored, lookupErr := s.repo.GetActivation(ctx, chainID, txHash)
			if lookupErr != nil {
				metrics.ActivationRequests.WithLabelValues("error").Inc()
				return ActivationOutcome{}, fmt.Errorf("reread duplicate activation: %w", lookupErr)
			}
			metrics.ActivationRequests.WithLabelValues("replayed").Inc()
			return ActivationOutcome{Activation: stored, Replayed: true}, nil
		}
		metrics.ActivationRequests.WithLabelValues("error").Inc()
		return ActivationOutcome{}, fmt.Errorf("record activation: %w", err)
	}

	metrics.ActivationRequests.WithLabelValues("activated").Inc()
	log.Info().
		Str("plan", act.Plan).
		Int64("chain_id", chainID).
		Str("tx_hash", logger.TruncateHash(txHash)).
		Str("wallet", logger.TruncateHash(act.Wallet)).
		Time("expires_at", act.ExpiresAt).
		Msg("entitlement.activated")

	return ActivationOutcome{Activation: act}, nil
}

// Entitlement returns the current entitlement for a wallet.
func (s *Service) Entitlement(ctx context.Context, wallet string) (Entitlement, error) {
	return s.repo.GetEntitlement(ctx, wallet)
}

// nextExpiry extends from the later of now and the current expiry, so a
// renewal bought before the old period ends stacks instead of truncating.
func (s *Service) nextExpiry(ctx context.Context, wallet string, plan payconfig.Plan, now time.Time) time.Time {
	base := now
	if current, err := s.repo.GetEntitlement(ctx, wallet); err == nil && current.ExpiresAt.After(base) {
		base = current.ExpiresAt
	}
	return base.AddDate(0, 0, plan.DurationDays)
}
