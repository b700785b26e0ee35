// checkoutd is the activation backend: it serves the payment
// configuration, verifies reported transfers on chain, and records
// entitlements.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/chainpass/checkout/internal/chain"
	"github.com/chainpass/checkout/internal/circuitbreaker"
	"github.com/chainpass/checkout/internal/config"
	"github.com/chainpass/checkout/internal/entitlement"
	"github.com/chainpass/checkout/internal/httpserver"
	"github.com/chainpass/checkout/internal/lifecycle"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/payconfig"
)

const version = "1.2.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "checkoutd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to yaml configuration file")
	flag.Parse()

	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "checkoutd",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})

	closer := lifecycle.NewManager()
	defer func() {
		if err := closer.Close(); err != nil {
			appLogger.Error().Err(err).Msg("main.shutdown_cleanup_failed")
		}
	}()

	repo, err := buildRepository(cfg, appLogger)
	if err != nil {
		return err
	}
	closer.Register("entitlement repository", repo)

	resolver, err := payconfig.NewResolver(cfg.Payment)
	if err != nil {
		return fmt.Errorf("build payment resolver: %w", err)
	}

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	pool := chain.NewPool(cfg.Chain.RPCURLs)
	closer.Register("chain pool", pool)

	oracle := chain.NewOracle(pool, breakers)
	watcher := chain.NewWatcher(pool, cfg.Chain.PollInterval.Duration, cfg.Chain.ConfirmTimeout.Duration)
	verifier := entitlement.NewChainVerifier(watcher)

	service := entitlement.NewService(repo, resolver, verifier, oracle)
	server := httpserver.New(cfg, resolver, service, appLogger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		appLogger.Info().Str("signal", sig.String()).Msg("main.shutting_down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	appLogger.Info().Msg("main.stopped")
	return nil
}

func buildRepository(cfg *config.Config, appLogger zerolog.Logger) (entitlement.Repository, error) {
	switch cfg.Database.Backend {
	case "postgres":
		repo, err := entitlement.NewPostgresRepository(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repo, nil
	case "memory":
		appLogger.Warn().Msg("main.memory_backend_in_use")
		return entitlement.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}
