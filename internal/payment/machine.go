package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/chainpass/checkout/internal/activation"
	"github.com/chainpass/checkout/internal/chain"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/metrics"
	"github.com/chainpass/checkout/internal/payconfig"
	"github.com/chainpass/checkout/internal/wallet"
)

// BalanceOracle reads token balances and decimals from chain.
type BalanceOracle interface {
	Balance(ctx context.Context, chainID int64, token, owner string) (*big.Int, error)
	Decimals(ctx context.Context, chainID int64, token string) (uint8, error)
}

// Submitter broadcasts one transfer per call.
type Submitter interface {
	Submit(ctx context.Context, chainID int64, token, to string, amount *big.Int) (string, error)
}

// Watcher blocks until a transaction confirms, reverts, or times out.
type Watcher interface {
	Await(ctx context.Context, chainID int64, txHash string) (*types.Receipt, error)
}

// Activator reports a confirmed payment to the backend.
type Activator interface {
	Activate(ctx context.Context, plan string, req activation.Request) (activation.Result, error)
}

// AccountSource exposes the connected wallet account.
type AccountSource interface {
	Account() string
	Connected() bool
}

// Machine runs one payment at a time through the flow
// checking -> transferring -> confirming -> activating. Every phase can
// fail into the failed state; an explicit retry always restarts at
// checking with a freshly resolved intent, never rebroadcasts an old one.
type Machine struct {
	cfg       payconfig.RemoteConfig
	session   AccountSource
	oracle    BalanceOracle
	submitter Submitter
	watcher   Watcher
	activator Activator

	mu      sync.Mutex
	state   State
	failure *Failure
	intent  *Intent
	stale   bool

	lastPlan  string
	lastChain int64

	obsMu     sync.Mutex
	observers []func(Transition)
}

// NewMachine assembles a payment machine.
func NewMachine(cfg payconfig.RemoteConfig, session AccountSource, oracle BalanceOracle, submitter Submitter, watcher Watcher, activator Activator) *Machine {
	return &Machine{
		cfg:       cfg,
		session:   session,
		oracle:    oracle,
		submitter: submitter,
		watcher:   watcher,
		activator: activator,
		state:     StateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastFailure returns the failure that moved the machine into the failed
// state, or nil.
func (m *Machine) LastFailure() *Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Intent returns the intent of the in-flight or last attempt, or nil.
func (m *Machine) Intent() *Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intent
}

// Observe registers a transition observer.
func (m *Machine) Observe(fn func(Transition)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, fn)
}

// Pay runs a full payment for the plan on the given chain. It may only be
// started from idle or from a previous failure. The gate and the entry
// into checking happen under one lock, so two concurrent calls can never
// both start.
func (m *Machine) Pay(ctx context.Context, plan string, chainID int64) (Result, error) {
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return Result{}, fmt.Errorf("payment already in progress (state %s)", state)
	}
	from := m.state
	m.state = StateChecking
	m.failure = nil
	m.lastPlan = plan
	m.lastChain = chainID
	m.mu.Unlock()

	m.notify(Transition{From: from, To: StateChecking})
	return m.run(ctx, plan, chainID)
}

// Retry restarts a failed payment. It always re-enters checking: balances,
// prices, and decimals are re-resolved and a new transfer is built, so a
// transaction from the failed attempt can never be double-spent.
func (m *Machine) Retry(ctx context.Context) (Result, error) {
	m.mu.Lock()
	if m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return Result{}, fmt.Errorf("retry only valid after a failure (state %s)", state)
	}
	from := m.state
	m.state = StateChecking
	m.failure = nil
	plan, chainID := m.lastPlan, m.lastChain
	m.mu.Unlock()

	m.notify(Transition{From: from, To: StateChecking})
	return m.run(ctx, plan, chainID)
}

// NotifySessionChange reacts to wallet session events. An account or
// chain change marks the current intent stale: it was priced and
// addressed for a session that no longer holds, so it must not reach the
// wallet. A transfer already broadcast is unaffected.
func (m *Machine) NotifySessionChange(ev wallet.Event) {
	switch ev.Kind {
	case wallet.EventAccountsChanged, wallet.EventChainChanged, wallet.EventDisconnected:
	default:
		return
	}

	m.mu.Lock()
	if m.intent != nil {
		m.stale = true
	}
	m.mu.Unlock()
}

func (m *Machine) run(ctx context.Context, plan string, chainID int64) (Result, error) {
	log := logger.FromContext(ctx)

	intent, failure := m.check(ctx, plan, chainID)
	if failure != nil {
		return Result{}, m.fail(ctx, failure)
	}

	m.transition(StateTransferring, nil)
	txHash, failure := m.transfer(ctx, intent)
	if failure != nil {
		return Result{}, m.fail(ctx, failure)
	}

	m.transition(StateConfirming, nil)
	receipt, failure := m.confirm(ctx, intent, txHash)
	if failure != nil {
		return Result{}, m.fail(ctx, failure)
	}

	m.transition(StateActivating, nil)
	actResult, failure := m.activate(ctx, intent, txHash)
	if failure != nil {
		return Result{}, m.fail(ctx, failure)
	}

	m.transition(StateSucceeded, nil)
	metrics.PaymentAttempts.WithLabelValues("succeeded", plan).Inc()

	result := Result{
		Plan:       plan,
		ChainID:    chainID,
		TxHash:     txHash,
		ExpiresAt:  actResult.ExpiresAt,
		Activated:  true,
		Replayed:   actResult.Replayed,
		BlockNum:   receipt.BlockNumber.Uint64(),
		AmountPaid: chain.FormatMinorUnits(intent.AmountMinor, intent.Decimals),
	}

	log.Info().
		Str("plan", plan).
		Int64("chain_id", chainID).
		Str("tx_hash", logger.TruncateHash(txHash)).
		Str("expires_at", actResult.ExpiresAt).
		Msg("payment.succeeded")

	return result, nil
}

// check resolves a fresh intent and verifies the balance covers it.
// The machine is already in checking when this runs.
func (m *Machine) check(ctx context.Context, plan string, chainID int64) (*Intent, *Failure) {
	if !m.session.Connected() {
		return nil, &Failure{
			Kind:    ErrKindConnectFailed,
			Message: "no wallet connected",
		}
	}
	payer := m.session.Account()

	remotePlan, ok := m.cfg.Plan(plan)
	if !ok {
		return nil, &Failure{
			Kind:    ErrKindUnpayable,
			Message: fmt.Sprintf("unknown plan %q", plan),
		}
	}
	price, err := decimal.NewFromString(remotePlan.Price)
	if err != nil {
		return nil, &Failure{
			Kind:    ErrKindUnpayable,
			Message: fmt.Sprintf("plan %q has unusable price %q", plan, remotePlan.Price),
			Err:     err,
		}
	}

	terms, ok := m.cfg.Terms(chainID)
	if !ok {
		return nil, &Failure{
			Kind:    ErrKindUnpayable,
			Message: fmt.Sprintf("network %d is not accepted for payment", chainID),
		}
	}

	decimals, err := m.oracle.Decimals(ctx, chainID, terms.TokenContract)
	if err != nil {
		return nil, &Failure{
			Kind:    ErrKindRPCFailure,
			Message: fmt.Sprintf("read token decimals on chain %d", chainID),
			Err:     err,
		}
	}

	required := chain.RequiredMinorUnits(price, decimals)

	balance, err := m.oracle.Balance(ctx, chainID, terms.TokenContract, payer)
	if err != nil {
		return nil, &Failure{
			Kind:    ErrKindRPCFailure,
			Message: fmt.Sprintf("read token balance on chain %d", chainID),
			Err:     err,
		}
	}

	if !chain.HasSufficientBalance(balance, required) {
		return nil, &Failure{
			Kind: ErrKindInsufficientBalance,
			Message: fmt.Sprintf("insufficient %s balance: have %s, need %s",
				terms.TokenSymbol,
				chain.FormatMinorUnits(balance, decimals),
				chain.FormatMinorUnits(required, decimals)),
		}
	}

	intent := &Intent{
		Plan:          plan,
		Price:         price,
		ChainID:       chainID,
		TokenContract: terms.TokenContract,
		TokenSymbol:   terms.TokenSymbol,
		Receiver:      terms.Receiver,
		Decimals:      decimals,
		AmountMinor:   required,
		Payer:         payer,
	}

	m.mu.Lock()
	m.intent = intent
	m.stale = false
	m.mu.Unlock()

	return intent, nil
}

// transfer asks the wallet to broadcast the intent exactly once. An
// intent marked stale by a session change is refused before the wallet
// sees it.
func (m *Machine) transfer(ctx context.Context, intent *Intent) (string, *Failure) {
	m.mu.Lock()
	stale := m.stale
	m.mu.Unlock()
	if stale {
		return "", &Failure{
			Kind:    ErrKindConnectFailed,
			Message: "wallet session changed; the transfer was not sent",
		}
	}

	txHash, err := m.submitter.Submit(ctx, intent.ChainID, intent.TokenContract, intent.Receiver, intent.AmountMinor)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrNetworkMismatch):
			return "", &Failure{
				Kind:    ErrKindNetworkMismatch,
				Message: "wallet is on a different network than the payment",
				Err:     err,
			}
		case errors.Is(err, wallet.ErrUserRejected):
			return "", &Failure{
				Kind:    ErrKindRejected,
				Message: "transfer rejected in wallet",
				Err:     err,
			}
		default:
			return "", &Failure{
				Kind:    ErrKindRPCFailure,
				Message: "broadcast transfer",
				Err:     err,
			}
		}
	}
	return txHash, nil
}

// confirm waits for the receipt. On timeout or cancellation the hash is
// preserved in the failure: the transfer may still confirm later.
func (m *Machine) confirm(ctx context.Context, intent *Intent, txHash string) (*types.Receipt, *Failure) {
	receipt, err := m.watcher.Await(ctx, intent.ChainID, txHash)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrReverted):
			return nil, &Failure{
				Kind:    ErrKindReverted,
				Message: "transfer reverted on chain",
				Err:     err,
				TxHash:  txHash,
				ChainID: intent.ChainID,
			}
		case errors.Is(err, chain.ErrStillPending), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, &Failure{
				Kind:    ErrKindPending,
				Message: "transfer not confirmed in time; it may still confirm",
				Err:     err,
				TxHash:  txHash,
				ChainID: intent.ChainID,
			}
		default:
			return nil, &Failure{
				Kind:    ErrKindRPCFailure,
				Message: "watch transfer confirmation",
				Err:     err,
				TxHash:  txHash,
				ChainID: intent.ChainID,
			}
		}
	}
	return receipt, nil
}

// activate reports the confirmed transfer to the backend. A failure here
// keeps the hash: the payment is on chain and must not be paid again, so
// the caller reconciles with the retained proof instead of retrying the
// whole flow.
func (m *Machine) activate(ctx context.Context, intent *Intent, txHash string) (activation.Result, *Failure) {
	result, err := m.activator.Activate(ctx, intent.Plan, activation.Request{
		TxHash:  txHash,
		ChainID: intent.ChainID,
		Wallet:  intent.Payer,
	})
	if err != nil {
		return activation.Result{}, &Failure{
			Kind:    ErrKindActivationFailed,
			Message: "payment confirmed but activation failed; keep the transaction hash",
			Err:     err,
			TxHash:  txHash,
			ChainID: intent.ChainID,
		}
	}
	return result, nil
}

// fail records the failure, transitions, and returns it as an error.
func (m *Machine) fail(ctx context.Context, failure *Failure) error {
	m.transition(StateFailed, failure)
	metrics.PaymentAttempts.WithLabelValues("failed", m.lastPlan).Inc()

	log := logger.FromContext(ctx)
	log.Warn().
		Str("kind", failure.Kind.String()).
		Str("tx_hash", logger.TruncateHash(failure.TxHash)).
		Int64("chain_id", failure.ChainID).
		Err(failure.Err).
		Msg("payment.failed")

	return failure
}

func (m *Machine) transition(to State, failure *Failure) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.failure = failure
	m.mu.Unlock()

	m.notify(Transition{From: from, To: to, Failure: failure})
}

func (m *Machine) notify(t Transition) {
	m.obsMu.Lock()
	observers := make([]func(Transition), len(m.observers))
	copy(observers, m.observers)
	m.obsMu.Unlock()

	for _, fn := range observers {
		fn(t)
	}
}
