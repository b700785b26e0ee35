package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Chain          ChainConfig          `yaml:"chain"`
	Payment        PaymentConfig        `yaml:"payment"`
	Wallet         WalletConfig         `yaml:"wallet"`
	Journal        JournalConfig        `yaml:"journal"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	BaseURL            string   `yaml:"base_url"` // Activation API base URL as seen by clients
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds the entitlement store configuration.
type DatabaseConfig struct {
	Backend         string   `yaml:"backend" validate:"oneof=memory postgres"` // "memory" or "postgres"
	PostgresURL     string   `yaml:"postgres_url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// ChainConfig holds per-network RPC endpoints and confirmation tuning.
// RPC URLs are keyed by decimal chain id.
type ChainConfig struct {
	RPCURLs        map[int64]string `yaml:"rpc_urls"`
	ConfirmTimeout Duration         `yaml:"confirm_timeout"` // Bound on waiting for finalization
	PollInterval   Duration         `yaml:"poll_interval"`   // Receipt polling cadence
}

// PaymentConfig holds per-network receiving addresses and the plan table.
// A network without a receiving address is not payable.
type PaymentConfig struct {
	Receivers map[int64]string    `yaml:"receivers"`
	Plans     map[string]PlanSpec `yaml:"plans" validate:"required,dive"`
}

// PlanSpec defines a purchasable membership plan.
// Price is an exact decimal string in stablecoin major units; it is never
// parsed into a float.
type PlanSpec struct {
	Price         string `yaml:"price" validate:"required"`
	DurationLabel string `yaml:"duration_label" validate:"required"`
	DurationDays  int    `yaml:"duration_days" validate:"required,gt=0"`
}

// WalletConfig holds wallet connector tuning.
type WalletConfig struct {
	ConnectTimeout   Duration `yaml:"connect_timeout"`
	SignerPrivateKey string   `yaml:"-"` // Loaded from env (CHECKOUT_SIGNER_KEY), never from file
}

// JournalConfig holds the local payment journal used by the CLI.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// RateLimitConfig holds request rate limiting for the activation API.
type RateLimitConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Limit       int      `yaml:"limit"`  // Requests allowed per window per IP
	Window      Duration `yaml:"window"` // Time window
	GlobalLimit int      `yaml:"global_limit"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents hammering a degraded RPC node or backend by failing fast.
type CircuitBreakerConfig struct {
	Enabled       bool                 `yaml:"enabled"`
	ChainRPC      BreakerServiceConfig `yaml:"chain_rpc"`
	ActivationAPI BreakerServiceConfig `yaml:"activation_api"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
