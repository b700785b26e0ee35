package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chainpass/checkout/internal/activation"
	"github.com/chainpass/checkout/internal/apierrors"
	"github.com/chainpass/checkout/internal/circuitbreaker"
	"github.com/chainpass/checkout/internal/journal"
	"github.com/chainpass/checkout/internal/payconfig"
	"github.com/chainpass/checkout/internal/payment"
)

const testHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// reconcileClient builds a client with only the pieces Reconcile and
// recordOutcome touch: no wallet, no machine, nothing that could sign or
// broadcast a transfer.
func reconcileClient(t *testing.T, backendURL string) *Client {
	t.Helper()

	return &Client{
		journal:    openTestJournal(t),
		activation: activation.NewClient(backendURL, circuitbreaker.NewManager(circuitbreaker.Config{})),
	}
}

func TestReconcileActivatesConfirmedEntryWithoutRebroadcast(t *testing.T) {
	var posts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts = append(posts, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_code": 200,
			"api_msg":  "ok",
			"data": activation.Result{
				Plan:      "basic",
				TxHash:    testHash,
				ChainID:   137,
				ExpiresAt: "2027-01-01T00:00:00Z",
			},
		})
	}))
	defer srv.Close()

	c := reconcileClient(t, srv.URL)
	ctx := context.Background()

	// A payment that confirmed on chain but whose activation never
	// completed, plus entries reconcile must leave alone.
	if _, err := c.journal.RecordBroadcast(ctx, "basic", "0xpayer", 137, testHash, "30000000"); err != nil {
		t.Fatalf("RecordBroadcast: %v", err)
	}
	if err := c.journal.UpdateStatus(ctx, testHash, journal.StatusConfirmed, "activation backend unreachable"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := c.journal.RecordBroadcast(ctx, "basic", "0xpayer", 137, "0xdone", "30000000"); err != nil {
		t.Fatalf("RecordBroadcast: %v", err)
	}
	if err := c.journal.UpdateStatus(ctx, "0xdone", journal.StatusActivated, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	activated, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if activated != 1 {
		t.Errorf("activated = %d, want 1", activated)
	}

	// Only the stored hash was replayed to the backend; nothing was
	// re-signed or re-sent on chain.
	if len(posts) != 1 || posts[0] != "/api/v1/pay/activate/basic" {
		t.Errorf("backend calls = %v, want one activate for basic", posts)
	}

	entry, err := c.journal.Get(ctx, testHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Status != journal.StatusActivated {
		t.Errorf("status = %q, want activated", entry.Status)
	}
}

func TestReconcileMarksRejectedEntryFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_code": 422,
			"api_msg":  "transfer reverted on chain",
			"data": apierrors.ErrorBody{
				Code:    apierrors.CodeTransactionReverted,
				Message: "transfer reverted on chain",
			},
		})
	}))
	defer srv.Close()

	c := reconcileClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.journal.RecordBroadcast(ctx, "basic", "0xpayer", 137, testHash, "30000000"); err != nil {
		t.Fatalf("RecordBroadcast: %v", err)
	}

	activated, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if activated != 0 {
		t.Errorf("activated = %d, want 0", activated)
	}

	entry, err := c.journal.Get(ctx, testHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Status != journal.StatusFailed {
		t.Errorf("status = %q, want failed (reverted transfers cannot activate later)", entry.Status)
	}
}

func TestRecordOutcomeKeepsBroadcastFailures(t *testing.T) {
	tests := []struct {
		name       string
		kind       payment.ErrorKind
		wantStatus string
	}{
		{name: "activation failed after confirmation", kind: payment.ErrKindActivationFailed, wantStatus: journal.StatusConfirmed},
		{name: "transfer reverted", kind: payment.ErrKindReverted, wantStatus: journal.StatusFailed},
		{name: "confirmation timed out", kind: payment.ErrKindPending, wantStatus: journal.StatusBroadcast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{
				journal: openTestJournal(t),
				machine: payment.NewMachine(payconfig.RemoteConfig{}, nil, nil, nil, nil, nil),
			}
			ctx := context.Background()

			failure := &payment.Failure{
				Kind:    tt.kind,
				Message: tt.name,
				TxHash:  testHash,
				ChainID: 137,
			}
			c.recordOutcome(ctx, "basic", payment.Result{}, failure)

			entry, err := c.journal.Get(ctx, testHash)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if entry.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", entry.Status, tt.wantStatus)
			}
			if entry.ChainID != 137 {
				t.Errorf("chain id = %d, want 137", entry.ChainID)
			}
		})
	}
}

func TestRecordOutcomeSkipsPreBroadcastFailures(t *testing.T) {
	c := &Client{
		journal: openTestJournal(t),
		machine: payment.NewMachine(payconfig.RemoteConfig{}, nil, nil, nil, nil, nil),
	}
	ctx := context.Background()

	failure := &payment.Failure{Kind: payment.ErrKindInsufficientBalance, Message: "too poor"}
	c.recordOutcome(ctx, "basic", payment.Result{}, failure)

	entries, err := c.journal.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("journal entries = %d, want 0 when nothing was broadcast", len(entries))
	}
}
