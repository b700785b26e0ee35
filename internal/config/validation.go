package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	defaultPollInterval   = 3 * time.Second
	defaultConfirmTimeout = 2 * time.Minute
	defaultConnectTimeout = 30 * time.Second
)

var validate = validator.New()

// finalize applies derived defaults and validates the assembled configuration.
// It is called once by Load after file parsing and env overrides.
func (c *Config) finalize() error {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Chain.PollInterval.Duration <= 0 {
		c.Chain.PollInterval = Duration{Duration: defaultPollInterval}
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		c.Chain.ConfirmTimeout = Duration{Duration: defaultConfirmTimeout}
	}
	if c.Wallet.ConnectTimeout.Duration <= 0 {
		c.Wallet.ConnectTimeout = Duration{Duration: defaultConnectTimeout}
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if err := c.validatePayment(); err != nil {
		return err
	}

	if c.Database.Backend == "postgres" && c.Database.PostgresURL == "" {
		return fmt.Errorf("database.backend is postgres but no postgres_url configured")
	}

	return nil
}

// validatePayment checks the parts the validator tags cannot express:
// receiving addresses must be well-formed and plan prices must be exact
// positive decimals.
func (c *Config) validatePayment() error {
	for chainID, addr := range c.Payment.Receivers {
		if addr == "" {
			// Empty means "not payable on this network"; allowed.
			continue
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("payment.receivers[%d]: %q is not a valid address", chainID, addr)
		}
	}

	for name, plan := range c.Payment.Plans {
		price, err := decimal.NewFromString(plan.Price)
		if err != nil {
			return fmt.Errorf("payment.plans[%s].price: %q is not a decimal: %w", name, plan.Price, err)
		}
		if price.Sign() <= 0 {
			return fmt.Errorf("payment.plans[%s].price must be positive, got %q", name, plan.Price)
		}
	}

	return nil
}
