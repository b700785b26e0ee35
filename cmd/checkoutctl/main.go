// checkoutctl is the operator CLI: pay for a plan with a local signer
// key, check an entitlement, list the attempt journal, and reconcile
// payments whose activation never completed.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chainpass/checkout/internal/config"
	"github.com/chainpass/checkout/internal/journal"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/wallet"
	"github.com/chainpass/checkout/pkg/checkout"
)

var (
	configPath  string
	backendURL  string
	journalPath string
	rpcFlags    []string
	logLevel    string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "checkoutctl",
		Short: "subscription checkout client: pay, verify, and reconcile",
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CHECKOUT_CONFIG"), "path to yaml configuration file")
	root.PersistentFlags().StringVar(&backendURL, "backend", "", "activation backend base url (default from config)")
	root.PersistentFlags().StringVar(&journalPath, "journal", "", "path to the local attempt journal (default from config)")
	root.PersistentFlags().StringArrayVar(&rpcFlags, "rpc", nil, "chain rpc endpoint as <chainid>=<url>, repeatable")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(plansCmd())
	root.AddCommand(payCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(journalCmd())
	root.AddCommand(reconcileCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func plansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "list plans and payable networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()
			client, _, err := newClient(ctx, false)
			if err != nil {
				return err
			}
			defer client.Close()

			cfg := client.Config()
			fmt.Println("plans:")
			for _, plan := range cfg.Plans {
				fmt.Printf("  %-8s %s (%s)\n", plan.Name, plan.Price, plan.DurationLabel)
			}
			fmt.Println("networks:")
			for _, net := range cfg.Networks {
				fmt.Printf("  %-16s chain %-6d %s -> %s\n", net.Name, net.ChainID, net.TokenSymbol, short(net.Receiver))
			}
			return nil
		},
	}
}

func payCmd() *cobra.Command {
	var plan string
	var chainID int64

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "pay for a plan with the local signer key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()
			client, cfg, err := newClient(ctx, true)
			if err != nil {
				return err
			}
			defer client.Close()

			key := cfg.Wallet.SignerPrivateKey
			if key == "" {
				return fmt.Errorf("CHECKOUT_SIGNER_KEY is not set")
			}

			rpcURLs, err := resolveRPCURLs(cfg)
			if err != nil {
				return err
			}
			if _, ok := rpcURLs[chainID]; !ok {
				return fmt.Errorf("no rpc endpoint configured for chain %d", chainID)
			}

			provider, err := wallet.NewKeyProvider(key, rpcURLs, chainID)
			if err != nil {
				return err
			}
			client.RegisterProvider(provider)

			session, err := client.Connect(ctx, "key")
			if err != nil {
				return err
			}
			fmt.Printf("paying as %s on chain %d\n", short(session.Account()), chainID)

			result, err := client.Pay(ctx, plan, chainID)
			if err != nil {
				return err
			}

			fmt.Printf("paid: tx %s\n", result.TxHash)
			fmt.Printf("plan %s active until %s\n", result.Plan, result.ExpiresAt)
			return nil
		},
	}

	cmd.Flags().StringVar(&plan, "plan", "basic", "plan to purchase")
	cmd.Flags().Int64Var(&chainID, "chain", 137, "chain id to pay on")
	return cmd
}

func statusCmd() *cobra.Command {
	var walletAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "show the entitlement of a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if walletAddr == "" {
				return fmt.Errorf("--wallet is required")
			}

			ctx := cliContext()
			client, _, err := newClient(ctx, false)
			if err != nil {
				return err
			}
			defer client.Close()

			ent, err := client.Entitlement(ctx, walletAddr)
			if err != nil {
				return err
			}

			if ent.Plan == "" {
				fmt.Printf("%s has no active plan\n", short(walletAddr))
				return nil
			}
			fmt.Printf("wallet:  %s\n", ent.Wallet)
			fmt.Printf("plan:    %s\n", ent.Plan)
			fmt.Printf("expires: %s\n", ent.ExpiresAt)
			return nil
		},
	}

	cmd.Flags().StringVar(&walletAddr, "wallet", "", "wallet address to query")
	return cmd
}

func journalCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "list recent payment attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			j, err := journal.Open(resolveJournalPath(cfg))
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("journal is empty")
				return nil
			}

			for _, e := range entries {
				fmt.Printf("%-10s chain %-6d %-8s %s  %s\n",
					e.Status, e.ChainID, e.Plan, short(e.TxHash), e.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "finish activation for payments that confirmed but were never activated",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()
			client, _, err := newClient(ctx, true)
			if err != nil {
				return err
			}
			defer client.Close()

			activated, err := client.Reconcile(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("reconciled %d payment(s)\n", activated)
			return nil
		},
	}
}

// newClient assembles a checkout client from the loaded configuration,
// with flags taking precedence. withJournal controls whether the local
// attempt journal is opened.
func newClient(ctx context.Context, withJournal bool) (*checkout.Client, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	rpcURLs, err := resolveRPCURLs(cfg)
	if err != nil {
		return nil, nil, err
	}

	backend := backendURL
	if backend == "" {
		backend = cfg.Server.BaseURL
	}

	opts := checkout.Options{
		BackendURL:     backend,
		RPCURLs:        rpcURLs,
		PollInterval:   cfg.Chain.PollInterval.Duration,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
		ConnectTimeout: cfg.Wallet.ConnectTimeout.Duration,
	}
	if withJournal {
		opts.JournalPath = resolveJournalPath(cfg)
	}

	client, err := checkout.New(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

func resolveJournalPath(cfg *config.Config) string {
	if journalPath != "" {
		return journalPath
	}
	return cfg.Journal.Path
}

// cliContext attaches a quiet logger so internal packages log to stderr
// at the selected level.
func cliContext() context.Context {
	appLogger := logger.New(logger.Config{
		Level:   logLevel,
		Format:  "console",
		Service: "checkoutctl",
	})
	return logger.WithContext(context.Background(), appLogger)
}

// resolveRPCURLs merges configured endpoints with --rpc flags; flags win.
// Environment endpoints (CHECKOUT_RPC_URL_<chainid>) are already folded
// into the config at load.
func resolveRPCURLs(cfg *config.Config) (map[int64]string, error) {
	out := make(map[int64]string, len(cfg.Chain.RPCURLs)+len(rpcFlags))
	for chainID, url := range cfg.Chain.RPCURLs {
		out[chainID] = url
	}

	for _, flag := range rpcFlags {
		idPart, url, ok := strings.Cut(flag, "=")
		if !ok {
			return nil, fmt.Errorf("bad --rpc value %q, want <chainid>=<url>", flag)
		}
		chainID, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad chain id in --rpc value %q", flag)
		}
		out[chainID] = url
	}

	return out, nil
}

func short(s string) string {
	return logger.TruncateHash(s)
}
