package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names. Secrets and deploy-specific values are only
// accepted through the environment, never from the YAML file.
const (
	envServerAddress = "CHECKOUT_SERVER_ADDRESS"
	envServerBaseURL = "CHECKOUT_SERVER_BASE_URL"
	envLogLevel      = "CHECKOUT_LOG_LEVEL"
	envLogFormat     = "CHECKOUT_LOG_FORMAT"
	envDBBackend     = "CHECKOUT_DB_BACKEND"
	envPostgresURL   = "CHECKOUT_POSTGRES_URL"
	envSignerKey     = "CHECKOUT_SIGNER_KEY"
	envJournalPath   = "CHECKOUT_JOURNAL_PATH"

	// Per-network overrides: CHECKOUT_RPC_URL_<chainid> and
	// CHECKOUT_RECEIVER_<chainid>, e.g. CHECKOUT_RPC_URL_1, CHECKOUT_RECEIVER_56.
	envRPCURLPrefix   = "CHECKOUT_RPC_URL_"
	envReceiverPrefix = "CHECKOUT_RECEIVER_"
)

// applyEnvOverrides mutates the config with values from the environment.
// Environment variables always win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envServerAddress); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv(envServerBaseURL); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(envDBBackend); v != "" {
		c.Database.Backend = v
	}
	if v := os.Getenv(envPostgresURL); v != "" {
		c.Database.PostgresURL = v
	}
	if v := os.Getenv(envSignerKey); v != "" {
		c.Wallet.SignerPrivateKey = v
	}
	if v := os.Getenv(envJournalPath); v != "" {
		c.Journal.Path = v
	}

	c.applyChainEnvOverrides()
}

// applyChainEnvOverrides scans the environment for per-chain RPC and
// receiving-address overrides.
func (c *Config) applyChainEnvOverrides() {
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}

		switch {
		case strings.HasPrefix(key, envRPCURLPrefix):
			if chainID, err := strconv.ParseInt(strings.TrimPrefix(key, envRPCURLPrefix), 10, 64); err == nil {
				if c.Chain.RPCURLs == nil {
					c.Chain.RPCURLs = map[int64]string{}
				}
				c.Chain.RPCURLs[chainID] = value
			}
		case strings.HasPrefix(key, envReceiverPrefix):
			if chainID, err := strconv.ParseInt(strings.TrimPrefix(key, envReceiverPrefix), 10, 64); err == nil {
				if c.Payment.Receivers == nil {
					c.Payment.Receivers = map[int64]string{}
				}
				c.Payment.Receivers[chainID] = value
			}
		}
	}
}
