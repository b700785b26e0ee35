package payconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/rpcutil"
)

// RemoteConfig is the payment configuration as served by the backend.
// Clients fetch it at startup instead of hard-coding receiving addresses.
type RemoteConfig struct {
	Plans    []RemotePlan    `json:"plans"`
	Networks []RemoteNetwork `json:"networks"`
}

type RemotePlan struct {
	Name          string `json:"name"`
	Price         string `json:"price"`
	DurationLabel string `json:"duration_label"`
	DurationDays  int    `json:"duration_days"`
}

type RemoteNetwork struct {
	ChainID       int64  `json:"chain_id"`
	Name          string `json:"name"`
	TokenContract string `json:"token_contract"`
	TokenSymbol   string `json:"token_symbol"`
	Receiver      string `json:"receiver"`
	ExplorerTx    string `json:"explorer_tx_base"`
}

type remoteEnvelope struct {
	APICode int          `json:"api_code"`
	APIMsg  string       `json:"api_msg"`
	Data    RemoteConfig `json:"data"`
}

// Fetcher retrieves payment configuration from the backend over HTTP.
type Fetcher struct {
	baseURL string
	client  *http.Client
	retry   rpcutil.RetryConfig
}

// NewFetcher creates a fetcher against the backend base URL.
func NewFetcher(baseURL string) *Fetcher {
	return &Fetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		retry:   rpcutil.DefaultRetryConfig(),
	}
}

// Fetch loads the remote payment configuration, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context) (RemoteConfig, error) {
	log := logger.FromContext(ctx)

	cfg, err := rpcutil.WithRetryCustom(ctx, "payconfig.fetch", f.retry, func() (RemoteConfig, error) {
		return f.fetchOnce(ctx)
	})
	if err != nil {
		return RemoteConfig{}, err
	}

	if err := validateRemote(cfg); err != nil {
		return RemoteConfig{}, err
	}

	log.Debug().
		Int("plans", len(cfg.Plans)).
		Int("networks", len(cfg.Networks)).
		Msg("payconfig.fetched")

	return cfg, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) (RemoteConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/v1/pay/config", nil)
	if err != nil {
		return RemoteConfig{}, fmt.Errorf("build config request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return RemoteConfig{}, fmt.Errorf("fetch payment config: %w", err)
	}
	defer resp.Body.Close()

	var env remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return RemoteConfig{}, fmt.Errorf("decode payment config: %w", err)
	}
	if env.APICode != http.StatusOK {
		return RemoteConfig{}, fmt.Errorf("payment config rejected: %d %s", env.APICode, env.APIMsg)
	}

	return env.Data, nil
}

// validateRemote rejects configurations the client cannot safely pay against.
func validateRemote(cfg RemoteConfig) error {
	if len(cfg.Plans) == 0 {
		return fmt.Errorf("payment config has no plans")
	}
	for _, plan := range cfg.Plans {
		price, err := decimal.NewFromString(plan.Price)
		if err != nil {
			return fmt.Errorf("plan %s: bad price %q: %w", plan.Name, plan.Price, err)
		}
		if price.Sign() <= 0 {
			return fmt.Errorf("plan %s: price must be positive, got %q", plan.Name, plan.Price)
		}
	}
	for _, net := range cfg.Networks {
		if net.Receiver == "" {
			return fmt.Errorf("network %d: missing receiver", net.ChainID)
		}
	}
	return nil
}

// Terms returns the remote terms for a chain id.
func (c RemoteConfig) Terms(chainID int64) (RemoteNetwork, bool) {
	for _, net := range c.Networks {
		if net.ChainID == chainID {
			return net, true
		}
	}
	return RemoteNetwork{}, false
}

// Plan returns the named remote plan.
func (c RemoteConfig) Plan(name string) (RemotePlan, bool) {
	for _, plan := range c.Plans {
		if plan.Name == name {
			return plan, true
		}
	}
	return RemotePlan{}, false
}
