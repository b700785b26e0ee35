package payment

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainpass/checkout/internal/activation"
	"github.com/chainpass/checkout/internal/chain"
	"github.com/chainpass/checkout/internal/payconfig"
	"github.com/chainpass/checkout/internal/wallet"
)

type fakeSession struct {
	account   string
	connected bool
}

func (f *fakeSession) Account() string { return f.account }
func (f *fakeSession) Connected() bool { return f.connected }

type fakeOracle struct {
	balance    *big.Int
	balanceErr error
	decimals   uint8
}

func (f *fakeOracle) Balance(ctx context.Context, chainID int64, token, owner string) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeOracle) Decimals(ctx context.Context, chainID int64, token string) (uint8, error) {
	return f.decimals, nil
}

type fakeSubmitter struct {
	hash  string
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(ctx context.Context, chainID int64, token, to string, amount *big.Int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.hash, nil
}

type fakeWatcher struct {
	receipt *types.Receipt
	err     error
}

func (f *fakeWatcher) Await(ctx context.Context, chainID int64, txHash string) (*types.Receipt, error) {
	return f.receipt, f.err
}

type fakeActivator struct {
	result activation.Result
	err    error
	calls  int
	last   activation.Request
}

func (f *fakeActivator) Activate(ctx context.Context, plan string, req activation.Request) (activation.Result, error) {
	f.calls++
	f.last = req
	return f.result, f.err
}

func testRemoteConfig() payconfig.RemoteConfig {
	return payconfig.RemoteConfig{
		Plans: []payconfig.RemotePlan{
			{Name: "basic", Price: "30", DurationLabel: "1 month", DurationDays: 30},
			{Name: "pro", Price: "300", DurationLabel: "1 year", DurationDays: 365},
		},
		Networks: []payconfig.RemoteNetwork{
			{ChainID: 137, Name: "Polygon", TokenContract: "0xtoken", TokenSymbol: "USDT", Receiver: "0xreceiver"},
		},
	}
}

type deps struct {
	session   *fakeSession
	oracle    *fakeOracle
	submitter *fakeSubmitter
	watcher   *fakeWatcher
	activator *fakeActivator
}

func happyDeps() deps {
	return deps{
		session:   &fakeSession{account: "0xpayer", connected: true},
		oracle:    &fakeOracle{balance: big.NewInt(100_000_000), decimals: 6},
		submitter: &fakeSubmitter{hash: "0xhash"},
		watcher:   &fakeWatcher{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5)}},
		activator: &fakeActivator{result: activation.Result{Plan: "basic", ExpiresAt: "2027-01-01T00:00:00Z"}},
	}
}

func newTestMachine(d deps) *Machine {
	return NewMachine(testRemoteConfig(), d.session, d.oracle, d.submitter, d.watcher, d.activator)
}

func TestPayHappyPath(t *testing.T) {
	d := happyDeps()
	m := newTestMachine(d)

	var path []State
	m.Observe(func(tr Transition) { path = append(path, tr.To) })

	result, err := m.Pay(context.Background(), "basic", 137)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	if m.State() != StateSucceeded {
		t.Errorf("state = %s, want succeeded", m.State())
	}
	if result.TxHash != "0xhash" {
		t.Errorf("tx hash = %q, want 0xhash", result.TxHash)
	}
	if result.ExpiresAt != "2027-01-01T00:00:00Z" {
		t.Errorf("expires = %q", result.ExpiresAt)
	}

	want := []State{StateChecking, StateTransferring, StateConfirming, StateActivating, StateSucceeded}
	if len(path) != len(want) {
		t.Fatalf("transition path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("transition path = %v, want %v", path, want)
		}
	}

	if d.activator.last.TxHash != "0xhash" || d.activator.last.ChainID != 137 {
		t.Errorf("activation called with (%s, %d), want (0xhash, 137)", d.activator.last.TxHash, d.activator.last.ChainID)
	}
}

func TestPayInsufficientBalanceNamesBothAmounts(t *testing.T) {
	d := happyDeps()
	d.oracle.balance = big.NewInt(100_000_000) // 100 tokens at 6 decimals
	m := newTestMachine(d)

	_, err := m.Pay(context.Background(), "pro", 137) // pro costs 300
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if failure.Kind != ErrKindInsufficientBalance {
		t.Fatalf("kind = %s, want insufficient_balance", failure.Kind)
	}
	if !strings.Contains(failure.Message, "100") || !strings.Contains(failure.Message, "300") {
		t.Errorf("message %q should name both the held and required amounts", failure.Message)
	}
	if d.submitter.calls != 0 {
		t.Errorf("broadcasts = %d, want 0 on insufficient balance", d.submitter.calls)
	}
}

func TestPayFailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*deps)
		wantKind ErrorKind
		wantHash string
	}{
		{
			name:     "no wallet connected",
			mutate:   func(d *deps) { d.session.connected = false },
			wantKind: ErrKindConnectFailed,
		},
		{
			name:     "unknown plan is unpayable",
			mutate:   func(d *deps) {},
			wantKind: ErrKindUnpayable,
		},
		{
			name:     "balance read fails",
			mutate:   func(d *deps) { d.oracle.balanceErr = errors.New("rpc down"); d.oracle.balance = nil },
			wantKind: ErrKindRPCFailure,
		},
		{
			name:     "wallet on wrong network",
			mutate:   func(d *deps) { d.submitter.err = chain.ErrNetworkMismatch },
			wantKind: ErrKindNetworkMismatch,
		},
		{
			name:     "user rejects in wallet",
			mutate:   func(d *deps) { d.submitter.err = wallet.ErrUserRejected },
			wantKind: ErrKindRejected,
		},
		{
			name:     "transfer reverts",
			mutate:   func(d *deps) { d.watcher.receipt = nil; d.watcher.err = chain.ErrReverted },
			wantKind: ErrKindReverted,
			wantHash: "0xhash",
		},
		{
			name:     "confirmation times out",
			mutate:   func(d *deps) { d.watcher.receipt = nil; d.watcher.err = chain.ErrStillPending },
			wantKind: ErrKindPending,
			wantHash: "0xhash",
		},
		{
			name:     "activation fails after confirmation",
			mutate:   func(d *deps) { d.activator.err = activation.ErrNetworkFailure },
			wantKind: ErrKindActivationFailed,
			wantHash: "0xhash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := happyDeps()
			tt.mutate(&d)
			m := newTestMachine(d)

			plan := "basic"
			if tt.name == "unknown plan is unpayable" {
				plan = "enterprise"
			}

			_, err := m.Pay(context.Background(), plan, 137)
			var failure *Failure
			if !errors.As(err, &failure) {
				t.Fatalf("err = %v, want *Failure", err)
			}
			if failure.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", failure.Kind, tt.wantKind)
			}
			if failure.TxHash != tt.wantHash {
				t.Errorf("retained hash = %q, want %q", failure.TxHash, tt.wantHash)
			}
			if tt.wantHash != "" && failure.ChainID != 137 {
				t.Errorf("retained chain id = %d, want 137", failure.ChainID)
			}
			if m.State() != StateFailed {
				t.Errorf("state = %s, want failed", m.State())
			}
		})
	}
}

func TestPayUnsupportedNetwork(t *testing.T) {
	d := happyDeps()
	m := newTestMachine(d)

	_, err := m.Pay(context.Background(), "basic", 31337)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if failure.Kind != ErrKindUnpayable {
		t.Errorf("kind = %s, want unpayable", failure.Kind)
	}
}

func TestRetryReentersCheckingWithFreshIntent(t *testing.T) {
	d := happyDeps()
	d.submitter.err = wallet.ErrUserRejected
	m := newTestMachine(d)

	if _, err := m.Pay(context.Background(), "basic", 137); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	firstIntent := m.Intent()

	var path []State
	m.Observe(func(tr Transition) { path = append(path, tr.To) })

	// The wallet accepts on retry.
	d.submitter.err = nil

	result, err := m.Retry(context.Background())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result.TxHash != "0xhash" {
		t.Errorf("tx hash = %q, want 0xhash", result.TxHash)
	}

	if len(path) == 0 || path[0] != StateChecking {
		t.Fatalf("retry path = %v, must re-enter checking first", path)
	}
	if m.Intent() == firstIntent {
		t.Error("retry reused the failed attempt's intent")
	}
	if d.submitter.calls != 2 {
		t.Errorf("broadcasts = %d, want 2 (one per attempt)", d.submitter.calls)
	}
}

func TestRetryOnlyFromFailure(t *testing.T) {
	m := newTestMachine(happyDeps())
	if _, err := m.Retry(context.Background()); err == nil {
		t.Fatal("Retry from idle must fail")
	}
}

func TestSessionChangeInvalidatesIntent(t *testing.T) {
	d := happyDeps()
	m := newTestMachine(d)

	// The wallet account changes after the intent is resolved but before
	// the transfer reaches the wallet.
	changed := false
	m.Observe(func(tr Transition) {
		if tr.To == StateTransferring && !changed {
			changed = true
			m.NotifySessionChange(wallet.Event{Kind: wallet.EventAccountsChanged, Accounts: []string{"0xother"}})
		}
	})

	_, err := m.Pay(context.Background(), "basic", 137)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if failure.Kind != ErrKindConnectFailed {
		t.Errorf("kind = %s, want connect_failed", failure.Kind)
	}
	if d.submitter.calls != 0 {
		t.Errorf("broadcasts = %d, want 0 for an invalidated intent", d.submitter.calls)
	}

	// Retry re-resolves the intent against the current session and pays.
	result, err := m.Retry(context.Background())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result.TxHash != "0xhash" {
		t.Errorf("tx hash = %q, want 0xhash", result.TxHash)
	}
	if d.submitter.calls != 1 {
		t.Errorf("broadcasts = %d, want 1", d.submitter.calls)
	}
}

func TestSessionChangeAfterBroadcastDoesNotAbortConfirmation(t *testing.T) {
	d := happyDeps()
	m := newTestMachine(d)

	m.Observe(func(tr Transition) {
		if tr.To == StateConfirming {
			m.NotifySessionChange(wallet.Event{Kind: wallet.EventChainChanged, ChainID: 1})
		}
	})

	if _, err := m.Pay(context.Background(), "basic", 137); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if m.State() != StateSucceeded {
		t.Errorf("state = %s, want succeeded (broadcast transfers are confirmed regardless)", m.State())
	}
}

func TestConcurrentPayBroadcastsOnce(t *testing.T) {
	d := happyDeps()
	m := newTestMachine(d)

	const callers = 8
	start := make(chan struct{})
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = m.Pay(context.Background(), "basic", 137)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("successful payments = %d, want exactly 1", succeeded)
	}
	if d.submitter.calls != 1 {
		t.Errorf("broadcasts = %d, want exactly 1", d.submitter.calls)
	}
}

func TestPayRejectsConcurrentStart(t *testing.T) {
	d := happyDeps()
	m := newTestMachine(d)

	started := make(chan struct{})
	release := make(chan struct{})
	d.watcher.receipt = nil
	d.watcher.err = nil
	blocking := &blockingWatcher{started: started, release: release}
	m.watcher = blocking

	go func() {
		_, _ = m.Pay(context.Background(), "basic", 137)
	}()
	<-started

	if _, err := m.Pay(context.Background(), "basic", 137); err == nil {
		t.Error("second Pay while in flight must fail")
	}
	close(release)
}

type blockingWatcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingWatcher) Await(ctx context.Context, chainID int64, txHash string) (*types.Receipt, error) {
	close(b.started)
	<-b.release
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}
