package entitlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/chainpass/checkout/internal/config"
	"github.com/chainpass/checkout/internal/payconfig"
)

type fakeVerifier struct {
	payer  string
	amount *big.Int
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, chainID int64, txHash, token, receiver string, minAmount *big.Int) (VerifiedTransfer, error) {
	f.calls++
	if f.err != nil {
		return VerifiedTransfer{}, f.err
	}
	return VerifiedTransfer{Payer: f.payer, Amount: f.amount}, nil
}

type fakeDecimals struct{ decimals uint8 }

func (f *fakeDecimals) Decimals(ctx context.Context, chainID int64, token string) (uint8, error) {
	return f.decimals, nil
}

func testService(t *testing.T, verifier *fakeVerifier) (*Service, *MemoryRepository) {
	t.Helper()

	resolver, err := payconfig.NewResolver(config.PaymentConfig{
		Receivers: map[int64]string{137: "0x1111111111111111111111111111111111111111"},
		Plans: map[string]config.PlanSpec{
			"basic": {Price: "30", DurationLabel: "1 month", DurationDays: 30},
		},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	repo := NewMemoryRepository()
	svc := NewService(repo, resolver, verifier, &fakeDecimals{decimals: 6})
	return svc, repo
}

const txHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestActivate(t *testing.T) {
	verifier := &fakeVerifier{payer: "0xPayer", amount: big.NewInt(30_000_000)}
	svc, _ := testService(t, verifier)

	outcome, err := svc.Activate(context.Background(), "basic", 137, txHash)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if outcome.Replayed {
		t.Error("first activation marked as replay")
	}
	if outcome.Activation.Plan != "basic" {
		t.Errorf("plan = %q, want basic", outcome.Activation.Plan)
	}
	if outcome.Activation.Wallet != "0xPayer" {
		t.Errorf("wallet = %q, want verified payer", outcome.Activation.Wallet)
	}

	wantExpiry := time.Now().AddDate(0, 0, 30)
	if diff := outcome.Activation.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry = %s, want ~30 days out", outcome.Activation.ExpiresAt)
	}
}

func TestActivateReplayDoesNotExtendTwice(t *testing.T) {
	verifier := &fakeVerifier{payer: "0xPayer", amount: big.NewInt(30_000_000)}
	svc, _ := testService(t, verifier)

	first, err := svc.Activate(context.Background(), "basic", 137, txHash)
	if err != nil {
		t.Fatalf("first Activate: %v", err)
	}

	second, err := svc.Activate(context.Background(), "basic", 137, txHash)
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	if !second.Replayed {
		t.Error("replay not flagged")
	}
	if !second.Activation.ExpiresAt.Equal(first.Activation.ExpiresAt) {
		t.Errorf("replay changed expiry: %s -> %s", first.Activation.ExpiresAt, second.Activation.ExpiresAt)
	}
	if verifier.calls != 1 {
		t.Errorf("verifier calls = %d, want 1 (replay short-circuits)", verifier.calls)
	}
}

func TestActivateRenewalStacksOnCurrentExpiry(t *testing.T) {
	verifier := &fakeVerifier{payer: "0xPayer", amount: big.NewInt(30_000_000)}
	svc, _ := testService(t, verifier)

	first, err := svc.Activate(context.Background(), "basic", 137, txHash)
	if err != nil {
		t.Fatalf("first Activate: %v", err)
	}

	secondHash := "0x2222222222222222222222222222222222222222222222222222222222222222"
	second, err := svc.Activate(context.Background(), "basic", 137, secondHash)
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}

	want := first.Activation.ExpiresAt.AddDate(0, 0, 30)
	if !second.Activation.ExpiresAt.Equal(want) {
		t.Errorf("renewal expiry = %s, want %s (stacked on current expiry)", second.Activation.ExpiresAt, want)
	}
}

func TestActivateVerificationFailures(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		chainID int64
		verify  error
		wantErr error
	}{
		{name: "unknown plan", plan: "enterprise", chainID: 137, wantErr: payconfig.ErrUnknownPlan},
		{name: "unsupported network", plan: "basic", chainID: 31337, wantErr: payconfig.ErrUnsupportedChain},
		{name: "network without receiver", plan: "basic", chainID: 1, wantErr: payconfig.ErrNetworkNotPayable},
		{name: "wrong recipient", plan: "basic", chainID: 137, verify: ErrWrongRecipient, wantErr: ErrWrongRecipient},
		{name: "amount too low", plan: "basic", chainID: 137, verify: ErrAmountMismatch, wantErr: ErrAmountMismatch},
		{name: "no transfer in tx", plan: "basic", chainID: 137, verify: ErrNoTransfer, wantErr: ErrNoTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &fakeVerifier{payer: "0xPayer", amount: big.NewInt(30_000_000), err: tt.verify}
			svc, repo := testService(t, verifier)

			_, err := svc.Activate(context.Background(), tt.plan, tt.chainID, txHash)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}

			if _, err := repo.GetActivation(context.Background(), tt.chainID, txHash); !errors.Is(err, ErrNotFound) {
				t.Error("failed activation left a record behind")
			}
		})
	}
}

func TestMemoryRepositoryCaseInsensitiveKeys(t *testing.T) {
	repo := NewMemoryRepository()

	act := Activation{
		Wallet:      "0xAbCd",
		Plan:        "basic",
		ChainID:     137,
		TxHash:      "0xABCDEF",
		AmountMinor: "30000000",
		ActivatedAt: time.Now(),
		ExpiresAt:   time.Now().AddDate(0, 0, 30),
	}
	if err := repo.RecordActivation(context.Background(), act); err != nil {
		t.Fatalf("RecordActivation: %v", err)
	}

	if _, err := repo.GetActivation(context.Background(), 137, "0xabcdef"); err != nil {
		t.Errorf("lowercased hash lookup failed: %v", err)
	}
	if _, err := repo.GetEntitlement(context.Background(), "0xABCD"); err != nil {
		t.Errorf("uppercased wallet lookup failed: %v", err)
	}

	if err := repo.RecordActivation(context.Background(), act); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate insert err = %v, want ErrDuplicate", err)
	}
}
