// Package checkout is the embedding surface for the payment client: it
// wires the wallet connector, chain readers, and activation client into
// one object an application drives with a few calls.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainpass/checkout/internal/activation"
	"github.com/chainpass/checkout/internal/chain"
	"github.com/chainpass/checkout/internal/circuitbreaker"
	"github.com/chainpass/checkout/internal/journal"
	"github.com/chainpass/checkout/internal/lifecycle"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/payconfig"
	"github.com/chainpass/checkout/internal/payment"
	"github.com/chainpass/checkout/internal/wallet"
)

// Options configure a Client.
type Options struct {
	// BackendURL is the activation backend base URL.
	BackendURL string

	// RPCURLs maps chain ids to RPC endpoints.
	RPCURLs map[int64]string

	// PollInterval and ConfirmTimeout control receipt watching.
	PollInterval   time.Duration
	ConfirmTimeout time.Duration

	// ConnectTimeout bounds the wallet connection flow.
	ConnectTimeout time.Duration

	// JournalPath enables the local attempt journal when non-empty.
	JournalPath string

	// Breakers is optional; a disabled manager is used when nil.
	Breakers *circuitbreaker.Manager
}

// Client is a configured payment pipeline bound to one backend.
type Client struct {
	cfg        payconfig.RemoteConfig
	registry   *wallet.Registry
	connector  *wallet.Connector
	pool       *chain.Pool
	oracle     *chain.Oracle
	watcher    *chain.Watcher
	activation *activation.Client
	journal    *journal.Journal
	closer     *lifecycle.Manager

	session *wallet.Session
	machine *payment.Machine
}

// New fetches the backend payment configuration and assembles the
// pipeline. The returned client is not yet connected to a wallet.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.BackendURL == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Breakers == nil {
		opts.Breakers = circuitbreaker.NewManager(circuitbreaker.Config{})
	}

	cfg, err := payconfig.NewFetcher(opts.BackendURL).Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch payment config: %w", err)
	}

	closer := lifecycle.NewManager()

	pool := chain.NewPool(opts.RPCURLs)
	closer.Register("chain pool", pool)

	c := &Client{
		cfg:        cfg,
		registry:   wallet.NewRegistry(),
		pool:       pool,
		oracle:     chain.NewOracle(pool, opts.Breakers),
		watcher:    chain.NewWatcher(pool, opts.PollInterval, opts.ConfirmTimeout),
		activation: activation.NewClient(opts.BackendURL, opts.Breakers),
		closer:     closer,
	}

	c.connector = wallet.NewConnector(c.registry, wallet.WithConnectTimeout(opts.ConnectTimeout))

	if opts.JournalPath != "" {
		j, err := journal.Open(opts.JournalPath)
		if err != nil {
			closer.Close()
			return nil, err
		}
		c.journal = j
		closer.Register("payment journal", j)
	}

	return c, nil
}

// Config returns the fetched payment configuration.
func (c *Client) Config() payconfig.RemoteConfig {
	return c.cfg
}

// RegisterProvider adds a wallet provider to the selection pool.
func (c *Client) RegisterProvider(p wallet.Provider) {
	c.registry.Register(p)
}

// Connect establishes a wallet session. An empty preferred id picks the
// best available provider. Reconnecting to a still-unlocked wallet keeps
// the existing session and machine.
func (c *Client) Connect(ctx context.Context, preferred string) (*wallet.Session, error) {
	session, err := c.connector.Connect(ctx, preferred)
	if err != nil {
		return nil, err
	}
	if session == c.session && c.machine != nil {
		return session, nil
	}

	c.session = session
	c.machine = payment.NewMachine(
		c.cfg,
		session,
		c.oracle,
		chain.NewSubmitter(session.Provider()),
		c.watcher,
		c.activation,
	)
	// Account and chain changes must reach the machine so an in-flight
	// intent is invalidated before it can be broadcast.
	session.Subscribe(c.machine.NotifySessionChange)
	return session, nil
}

// Machine returns the payment machine for observation, or nil before
// Connect.
func (c *Client) Machine() *payment.Machine {
	return c.machine
}

// Pay runs one payment for the plan on the given chain. The journal, when
// enabled, keeps the outcome either way: a failure after broadcast leaves
// an unfinished entry that Reconcile can complete later.
func (c *Client) Pay(ctx context.Context, plan string, chainID int64) (payment.Result, error) {
	if c.machine == nil {
		return payment.Result{}, fmt.Errorf("no wallet connected")
	}

	result, err := c.machine.Pay(ctx, plan, chainID)
	c.recordOutcome(ctx, plan, result, err)
	return result, err
}

// Retry restarts a failed payment from the balance check.
func (c *Client) Retry(ctx context.Context) (payment.Result, error) {
	if c.machine == nil {
		return payment.Result{}, fmt.Errorf("no wallet connected")
	}

	plan := ""
	if intent := c.machine.Intent(); intent != nil {
		plan = intent.Plan
	}

	result, err := c.machine.Retry(ctx)
	c.recordOutcome(ctx, plan, result, err)
	return result, err
}

// recordOutcome mirrors the payment outcome into the journal.
func (c *Client) recordOutcome(ctx context.Context, plan string, result payment.Result, err error) {
	if c.journal == nil {
		return
	}
	log := logger.FromContext(ctx)

	if err == nil {
		entry, recordErr := c.journal.RecordBroadcast(ctx, result.Plan, c.session.Account(), result.ChainID, result.TxHash, result.AmountPaid)
		if recordErr == nil {
			_ = c.journal.UpdateStatus(ctx, entry.TxHash, journal.StatusActivated, "activated at payment time")
		} else {
			log.Warn().Err(recordErr).Msg("checkout.journal_record_failed")
		}
		return
	}

	var failure *payment.Failure
	if !errors.As(err, &failure) || failure.TxHash == "" {
		// Nothing was broadcast; there is nothing to reconcile later.
		return
	}

	payer := ""
	if c.session != nil {
		payer = c.session.Account()
	}
	amount := ""
	if intent := c.machine.Intent(); intent != nil && intent.AmountMinor != nil {
		amount = intent.AmountMinor.String()
	}

	if _, recordErr := c.journal.RecordBroadcast(ctx, plan, payer, failure.ChainID, failure.TxHash, amount); recordErr != nil {
		log.Warn().Err(recordErr).Msg("checkout.journal_record_failed")
		return
	}

	status := journal.StatusBroadcast
	switch failure.Kind {
	case payment.ErrKindReverted:
		status = journal.StatusFailed
	case payment.ErrKindActivationFailed:
		status = journal.StatusConfirmed
	}
	_ = c.journal.UpdateStatus(ctx, failure.TxHash, status, failure.Message)
}

// Reconcile retries activation for every unfinished journal entry. A
// transfer that confirmed while the client was away is activated with its
// retained hash and chain id; one that reverted is marked failed.
func (c *Client) Reconcile(ctx context.Context) (int, error) {
	if c.journal == nil {
		return 0, fmt.Errorf("journal is not enabled")
	}
	log := logger.FromContext(ctx)

	entries, err := c.journal.Unfinished(ctx)
	if err != nil {
		return 0, err
	}

	var activated int
	for _, entry := range entries {
		result, actErr := c.activation.Activate(ctx, entry.Plan, activation.Request{
			TxHash:  entry.TxHash,
			ChainID: entry.ChainID,
			Wallet:  entry.Wallet,
		})
		if actErr != nil {
			var rejection *activation.BackendRejection
			if errors.As(actErr, &rejection) && !rejection.Retryable() {
				_ = c.journal.UpdateStatus(ctx, entry.TxHash, journal.StatusFailed, rejection.Message)
			}
			log.Warn().Err(actErr).
				Str("tx_hash", logger.TruncateHash(entry.TxHash)).
				Msg("checkout.reconcile_entry_failed")
			continue
		}

		_ = c.journal.UpdateStatus(ctx, entry.TxHash, journal.StatusActivated, "reconciled; expires "+result.ExpiresAt)
		activated++
	}

	return activated, nil
}

// Entitlement fetches the backend's view of a wallet's subscription.
func (c *Client) Entitlement(ctx context.Context, walletAddr string) (activation.Result, error) {
	return c.activation.Entitlement(ctx, walletAddr)
}

// Journal exposes the attempt journal, or nil when disabled.
func (c *Client) Journal() *journal.Journal {
	return c.journal
}

// Close releases every resource the client owns.
func (c *Client) Close() error {
	if c.session != nil {
		_ = c.session.Close()
	}
	return c.closer.Close()
}
