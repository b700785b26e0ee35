package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
			BaseURL:      "http://localhost:8080",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Backend:         "memory",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
		},
		Chain: ChainConfig{
			RPCURLs:        map[int64]string{},
			ConfirmTimeout: Duration{Duration: 2 * time.Minute},
			PollInterval:   Duration{Duration: 3 * time.Second},
		},
		Payment: PaymentConfig{
			Receivers: map[int64]string{},
			Plans: map[string]PlanSpec{
				"basic": {Price: "30", DurationLabel: "1 month", DurationDays: 30},
				"pro":   {Price: "300", DurationLabel: "1 year", DurationDays: 365},
			},
		},
		Wallet: WalletConfig{
			ConnectTimeout: Duration{Duration: 30 * time.Second},
		},
		Journal: JournalConfig{
			Path: "./data/checkout.db",
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			Enabled:     true,
			Limit:       120,
			Window:      Duration{Duration: 1 * time.Minute},
			GlobalLimit: 1000,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			ChainRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			ActivationAPI: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
