package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chainpass/checkout/internal/config"
	"github.com/chainpass/checkout/internal/entitlement"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/payconfig"
)

type scriptedVerifier struct {
	payer  string
	amount *big.Int
	err    error
}

func (f *scriptedVerifier) Verify(ctx context.Context, chainID int64, txHash, token, receiver string, minAmount *big.Int) (entitlement.VerifiedTransfer, error) {
	if f.err != nil {
		return entitlement.VerifiedTransfer{}, f.err
	}
	return entitlement.VerifiedTransfer{Payer: f.payer, Amount: f.amount}, nil
}

type fixedDecimals struct{}

func (fixedDecimals) Decimals(ctx context.Context, chainID int64, token string) (uint8, error) {
	return 6, nil
}

const testTxHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newTestServer(t *testing.T, verifier entitlement.TransferVerifier) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Address: ":0"},
	}
	cfg.Payment.Receivers = map[int64]string{137: "0x1111111111111111111111111111111111111111"}
	cfg.Payment.Plans = map[string]config.PlanSpec{
		"basic": {Price: "30", DurationLabel: "1 month", DurationDays: 30},
	}

	resolver, err := payconfig.NewResolver(cfg.Payment)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	service := entitlement.NewService(entitlement.NewMemoryRepository(), resolver, verifier, fixedDecimals{})
	appLogger := logger.New(logger.Config{Level: "error", Format: "json", Service: "test"})

	return New(cfg, resolver, service, appLogger)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var envelope map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	return rec, envelope
}

func TestPayConfigEndpoint(t *testing.T) {
	srv := newTestServer(t, &scriptedVerifier{})

	rec, env := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/pay/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if env["api_code"].(float64) != 200 {
		t.Errorf("api_code = %v, want 200", env["api_code"])
	}

	data := env["data"].(map[string]interface{})
	plans := data["plans"].([]interface{})
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want 1", len(plans))
	}
	networks := data["networks"].([]interface{})
	if len(networks) != 1 {
		t.Fatalf("networks = %d, want 1", len(networks))
	}
	network := networks[0].(map[string]interface{})
	if network["chain_id"].(float64) != 137 {
		t.Errorf("chain_id = %v, want 137", network["chain_id"])
	}
	if network["receiver"].(string) == "" {
		t.Error("receiver missing from config response")
	}
}

func TestActivateEndpoint(t *testing.T) {
	srv := newTestServer(t, &scriptedVerifier{payer: "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa", amount: big.NewInt(30_000_000)})

	body := map[string]interface{}{"hash": testTxHash, "chainid": 137}
	rec, env := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/pay/activate/basic", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	data := env["data"].(map[string]interface{})
	if data["replayed"].(bool) {
		t.Error("fresh activation flagged as replay")
	}
	if data["plan"].(string) != "basic" {
		t.Errorf("plan = %v, want basic", data["plan"])
	}

	// Reporting the same transaction again returns the stored result.
	rec2, env2 := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/pay/activate/basic", body)
	if rec2.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec2.Code)
	}
	data2 := env2["data"].(map[string]interface{})
	if !data2["replayed"].(bool) {
		t.Error("replay not flagged")
	}
	if data2["expires_at"] != data["expires_at"] {
		t.Errorf("replay changed expiry: %v -> %v", data["expires_at"], data2["expires_at"])
	}
}

func TestActivateEndpointRejections(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       map[string]interface{}
		verify     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing hash",
			path:       "/api/v1/pay/activate/basic",
			body:       map[string]interface{}{"chainid": 137},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_field",
		},
		{
			name:       "bad chain id",
			path:       "/api/v1/pay/activate/basic",
			body:       map[string]interface{}{"hash": testTxHash, "chainid": -1},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_field",
		},
		{
			name:       "unknown plan",
			path:       "/api/v1/pay/activate/enterprise",
			body:       map[string]interface{}{"hash": testTxHash, "chainid": 137},
			wantStatus: http.StatusBadRequest,
			wantCode:   "unknown_plan",
		},
		{
			name:       "wrong recipient",
			path:       "/api/v1/pay/activate/basic",
			body:       map[string]interface{}{"hash": testTxHash, "chainid": 137},
			verify:     entitlement.ErrWrongRecipient,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "wrong_recipient",
		},
		{
			name:       "underpaid",
			path:       "/api/v1/pay/activate/basic",
			body:       map[string]interface{}{"hash": testTxHash, "chainid": 137},
			verify:     entitlement.ErrAmountMismatch,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "amount_mismatch",
		},
		{
			name:       "no transfer found",
			path:       "/api/v1/pay/activate/basic",
			body:       map[string]interface{}{"hash": testTxHash, "chainid": 137},
			verify:     entitlement.ErrNoTransfer,
			wantStatus: http.StatusNotFound,
			wantCode:   "transaction_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &scriptedVerifier{err: tt.verify, payer: "0x1", amount: big.NewInt(1)})

			rec, env := doJSON(t, srv.Handler(), http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			data := env["data"].(map[string]interface{})
			if data["code"].(string) != tt.wantCode {
				t.Errorf("code = %v, want %s", data["code"], tt.wantCode)
			}
		})
	}
}

func TestEntitlementEndpoint(t *testing.T) {
	srv := newTestServer(t, &scriptedVerifier{payer: "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa", amount: big.NewInt(30_000_000)})

	// Unknown wallet reports inactive rather than an error.
	rec, env := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/pay/entitlement?wallet=0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if env["data"].(map[string]interface{})["active"].(bool) {
		t.Error("unknown wallet reported active")
	}

	// Activate, then the wallet shows an expiry in the future.
	body := map[string]interface{}{"hash": testTxHash, "chainid": 137}
	if rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/pay/activate/basic", body); rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d", rec.Code)
	}

	rec2, env2 := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/pay/entitlement?wallet=0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa", nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec2.Code)
	}
	data := env2["data"].(map[string]interface{})
	if !data["active"].(bool) {
		t.Error("activated wallet reported inactive")
	}
	expires, err := time.Parse(time.RFC3339, data["expires_at"].(string))
	if err != nil {
		t.Fatalf("parse expires_at: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Errorf("expiry %s is not in the future", expires)
	}

	// Malformed address is rejected.
	rec3, _ := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/pay/entitlement?wallet=bogus", nil)
	if rec3.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad address", rec3.Code)
	}
}
