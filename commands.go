package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/app"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/client"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/config"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/gateway"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/server"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ussd",
		Short: "Programmable USSD service selling WASSCE results checkers",
		Long: `Serves the Hubtel programmable services interaction and fulfillment
endpoints, keeps the transaction ledger and answers lost voucher requests.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (yaml, toml or json)")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newMigrateCmd(&configPath))
	rootCmd.AddCommand(newPriceCmd(&configPath))
	rootCmd.AddCommand(newRecheckCmd(&configPath))
	rootCmd.AddCommand(newSimulateCmd())

	return rootCmd
}

// loadConfig reads the configuration and builds the leveled logger
func loadConfig(configPath string) (*config.Config, cmtlog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(cfg.Log.Level, logger, "info")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	return cfg, logger, nil
}

// openRepository connects to the ledger database
func openRepository(cfg *config.Config, logger cmtlog.Logger) (*repository.Repository, func(), error) {
	db, err := repository.Open(
		cfg.Database.Driver,
		cfg.Database.DSN,
		cfg.Database.ConnectAttempts,
		logger.With("module", "repository"),
	)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { closeGorm(db, logger) }
	return repository.NewRepository(db, logger.With("module", "repository")), closeDB, nil
}

func closeGorm(db *gorm.DB, logger cmtlog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("Closing database", "err", err)
	}
}

func newGatewayClient(cfg *config.Config, logger cmtlog.Logger) *gateway.Client {
	return gateway.NewClient(gateway.Options{
		CallbackURL:    cfg.Gateway.CallbackURL,
		StatusURL:      cfg.Gateway.StatusURL,
		POSSalesID:     cfg.Gateway.POSSalesID,
		StatusUsername: cfg.Gateway.StatusUsername,
		StatusPassword: cfg.Gateway.StatusPassword,
		ProxyURL:       cfg.Gateway.ProxyURL,
		StatusTimeout:  cfg.Gateway.StatusTimeout,
	}, logger.With("module", "gateway"))
}

// newServeCmd starts the HTTP service
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the interaction and fulfillment endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	repo, closeDB, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := repo.Migrate(); err != nil {
		return err
	}

	var sessions app.SessionStore
	switch cfg.Session.Store {
	case config.SessionStoreBadger:
		badgerDB, err := repository.OpenBadger(cfg.Session.BadgerPath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := badgerDB.Close(); err != nil {
				logger.Error("Closing badger", "err", err)
			}
		}()
		sessions = repository.NewBadgerSessionStore(badgerDB)
	default:
		sessions = repository.NewGormSessionStore(repo.DB())
	}
	logger.Info("Session store ready", "store", cfg.Session.Store)

	prices, err := repository.NewPriceSource(repo, cfg.Pricing.ItemCode, cfg.Pricing.FallbackCents, cfg.Pricing.CacheTTL)
	if err != nil {
		return err
	}
	defer prices.Close()

	retry := gateway.RetryPolicy{
		Attempts:       cfg.Gateway.AckAttempts,
		AttemptTimeout: cfg.Gateway.AttemptTimeout,
		Delay:          cfg.Gateway.RetryDelay,
	}
	gw := newGatewayClient(cfg, logger)

	matcher := app.NewMatcher(repo, cfg.Matcher.CandidateLimit, logger.With("module", "matcher"))
	machine := app.NewMachine(sessions, repo, prices, matcher, logger.With("module", "ussd"))
	reconciler := app.NewReconciler(repo, gw, retry, logger.With("module", "fulfillment"))

	webserver := server.NewWebServer(machine, reconciler, cfg.Server.HTTPPort, logger.With("module", "server"))
	if err := webserver.Start(); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	waitForShutdown(c, prices, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
	return nil
}

// priceCache is the part of the price source that serve refreshes on SIGHUP
type priceCache interface {
	Invalidate()
}

// waitForShutdown blocks until an interrupt or SIGTERM. SIGHUP drops the cached
// price so a change made with "price set" applies at once.
func waitForShutdown(signals <-chan os.Signal, prices priceCache, logger cmtlog.Logger) os.Signal {
	for sig := range signals {
		if sig == syscall.SIGHUP {
			prices.Invalidate()
			logger.Info("Price cache cleared")
			continue
		}
		return sig
	}
	return nil
}

// newMigrateCmd creates or updates the schema
func newMigrateCmd(configPath *string) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			repo, closeDB, err := openRepository(cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.Migrate(); err != nil {
				return err
			}
			if seed {
				return repo.Seed()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "Insert the default checker price if no price exists")
	return cmd
}

// newPriceCmd manages the price table
func newPriceCmd(configPath *string) *cobra.Command {
	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Show or change item prices",
	}

	priceCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List configured prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			repo, closeDB, err := openRepository(cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			prices, err := repo.ListPrices(cmd.Context())
			if err != nil {
				return err
			}
			if len(prices) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No prices configured, %s sells at the fallback of %d pesewas\n",
					cfg.Pricing.ItemCode, cfg.Pricing.FallbackCents)
				return nil
			}
			for _, p := range prices {
				state := "inactive"
				if p.Active {
					state = "active"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", p.String(), state)
			}
			return nil
		},
	})

	var (
		code   string
		cents  int64
		active bool
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update a price",
		Long: `Create or update a price. A running serve process keeps its cached
price for pricing.cache_ttl; send it SIGHUP to apply the change at once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			repo, closeDB, err := openRepository(cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			if code == "" {
				code = cfg.Pricing.ItemCode
			}
			price, err := repo.SetPrice(cmd.Context(), code, cents, active)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), price.String())
			return nil
		},
	}
	setCmd.Flags().StringVar(&code, "code", "", "Item code (defaults to pricing.item_code)")
	setCmd.Flags().Int64Var(&cents, "cents", 0, "Unit price in pesewas")
	setCmd.Flags().BoolVar(&active, "active", true, "Whether the price is in effect")
	setCmd.MarkFlagRequired("cents")
	priceCmd.AddCommand(setCmd)

	return priceCmd
}

// newRecheckCmd asks the gateway for the status of a client reference
func newRecheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recheck [CLIENT_REFERENCE]",
		Short: "Query the gateway's transaction status endpoint",
		Long: `Query the gateway for what it knows about a client reference (the USSD session id).
The status endpoint only answers whitelisted addresses; set QUOTAGUARD_URL to route through a static IP proxy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			gw := newGatewayClient(cfg, logger)

			status, err := gw.CheckTransactionStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var pretty map[string]any
			if err := json.Unmarshal(status, &pretty); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(status))
				return nil
			}
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// newSimulateCmd plays the aggregator against a running service
func newSimulateCmd() *cobra.Command {
	var (
		baseURL    string
		mobile     string
		qty        int
		name       string
		phone      string
		recovery   bool
		pay        string
		iterations int
		csvPath    string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a scripted USSD conversation against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if iterations < 1 {
				return errors.New("iterations must be at least 1")
			}
			sim := client.NewSimulator(baseURL, timeout)
			out := cmd.OutOrStdout()

			var writer *os.File
			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return fmt.Errorf("creating CSV file: %w", err)
				}
				defer f.Close()
				header := csv.NewWriter(f)
				if err := header.Write(client.CSVHeader); err != nil {
					return fmt.Errorf("writing CSV header: %w", err)
				}
				header.Flush()
				writer = f
			}

			script := client.PurchaseScript(qty, name, phone)
			if recovery {
				script = client.RecoveryScript(name, phone)
			}

			for i := 0; i < iterations; i++ {
				sessionID := uuid.NewString()
				fmt.Fprintf(out, "\n[Iteration %d/%d] session %s\n", i+1, iterations, sessionID)

				results, err := sim.Run(cmd.Context(), sessionID, mobile, script)
				for _, result := range results {
					fmt.Fprintf(out, "%-16s %-10s %-26s [Delay: %v]\n  %s\n",
						result.Step.Name, result.Response.Type, result.Response.Label, result.Latency, result.Response.Message)
				}
				if err != nil {
					return err
				}
				if writer != nil {
					if err := client.WriteCSV(writer, i+1, results); err != nil {
						return fmt.Errorf("writing CSV: %w", err)
					}
				}

				if pay != "" && !recovery {
					code, err := sim.Fulfill(cmd.Context(), sessionID, "SIM-"+sessionID[:8], pay)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Fulfillment %q answered %d\n", pay, code)
				}
			}
			if csvPath != "" {
				fmt.Fprintf(out, "\nResults saved to %s\n", csvPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8000", "Base URL of the running service")
	cmd.Flags().StringVar(&mobile, "mobile", "233551234567", "Dialing handset number")
	cmd.Flags().IntVar(&qty, "qty", 1, "Number of checkers to buy")
	cmd.Flags().StringVar(&name, "name", "Jane Doe", "Purchaser full name")
	cmd.Flags().StringVar(&phone, "phone", "0551234567", "Receiver phone number")
	cmd.Flags().BoolVar(&recovery, "recover", false, "Run the lost voucher flow instead of a purchase")
	cmd.Flags().StringVar(&pay, "pay", "", "After checkout, post a fulfillment webhook with this status (e.g. Paid)")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 1, "Number of conversations to run")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write per-step latencies to this CSV file")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per request timeout")
	return cmd
}
