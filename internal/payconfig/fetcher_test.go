package payconfig

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func configHandler(cfg RemoteConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_code": 200,
			"api_msg":  "ok",
			"data":     cfg,
		})
	}
}

func TestFetcherFetch(t *testing.T) {
	remote := RemoteConfig{
		Plans: []RemotePlan{{Name: "basic", Price: "30", DurationLabel: "1 month", DurationDays: 30}},
		Networks: []RemoteNetwork{{
			ChainID:       137,
			Name:          "Polygon",
			TokenContract: "0xtoken",
			TokenSymbol:   "USDT",
			Receiver:      "0xreceiver",
		}},
	}

	srv := httptest.NewServer(configHandler(remote))
	defer srv.Close()

	cfg, err := NewFetcher(srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	plan, ok := cfg.Plan("basic")
	if !ok || plan.Price != "30" {
		t.Errorf("plan = %+v, ok = %v", plan, ok)
	}
	terms, ok := cfg.Terms(137)
	if !ok || terms.Receiver != "0xreceiver" {
		t.Errorf("terms = %+v, ok = %v", terms, ok)
	}
	if _, ok := cfg.Terms(1); ok {
		t.Error("Terms(1) unexpectedly present")
	}
}

func TestFetcherRejectsUnpayableConfig(t *testing.T) {
	tests := []struct {
		name   string
		remote RemoteConfig
	}{
		{
			name:   "no plans",
			remote: RemoteConfig{Networks: []RemoteNetwork{{ChainID: 137, Receiver: "0x1"}}},
		},
		{
			name: "zero price",
			remote: RemoteConfig{
				Plans: []RemotePlan{{Name: "basic", Price: "0"}},
			},
		},
		{
			name: "network without receiver",
			remote: RemoteConfig{
				Plans:    []RemotePlan{{Name: "basic", Price: "30"}},
				Networks: []RemoteNetwork{{ChainID: 137}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(configHandler(tt.remote))
			defer srv.Close()

			if _, err := NewFetcher(srv.URL).Fetch(context.Background()); err == nil {
				t.Error("expected error for unusable config")
			}
		})
	}
}

func TestFetcherBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_code": 503,
			"api_msg":  "maintenance",
		})
	}))
	defer srv.Close()

	if _, err := NewFetcher(srv.URL).Fetch(context.Background()); err == nil {
		t.Error("expected error for backend failure")
	}
}
