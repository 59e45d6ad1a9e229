package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telecare/revsync/internal/config"
	"github.com/telecare/revsync/internal/domain/billing"
	"github.com/telecare/revsync/internal/domain/clinic"
	"github.com/telecare/revsync/internal/domain/patient"
	"github.com/telecare/revsync/internal/domain/recon"
	"github.com/telecare/revsync/internal/platform/db"
	"github.com/telecare/revsync/internal/platform/middleware"
	"github.com/telecare/revsync/internal/platform/notification"
	"github.com/telecare/revsync/internal/platform/phi"
	"github.com/telecare/revsync/internal/platform/stripeconn"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "revsync-server",
		Short: "Payment reconciliation server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reconciliation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Roll back by applying a forward migration that reverses the change.")
			return nil
		},
	})

	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-check an invoice against its processor charge",
		RunE: func(cmd *cobra.Command, args []string) error {
			invoiceArg, _ := cmd.Flags().GetString("invoice")
			if invoiceArg == "" {
				return fmt.Errorf("--invoice is required")
			}
			invoiceID, err := uuid.Parse(invoiceArg)
			if err != nil {
				return fmt.Errorf("invalid invoice id %q: %w", invoiceArg, err)
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			cipher, err := buildCipher(cfg)
			if err != nil {
				return err
			}

			stripeClient := stripeconn.New(stripeconn.Config{
				APIKey:     cfg.StripeAPIKey,
				Timeout:    time.Duration(cfg.StripeTimeoutSecs) * time.Second,
				MaxRetries: cfg.StripeMaxRetries,
			}, logger)

			reconciler := recon.NewReconciler(
				billing.NewInvoiceRepoPG(pool),
				billing.NewPaymentRepoPG(pool),
				patient.NewRepoPG(pool, cipher),
				stripeClient,
				recon.NewLedgerRepoPG(pool),
				poolTxRunner(pool),
				logger,
			)

			outcome := reconciler.SyncInvoice(ctx, invoiceID)
			out, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !outcome.Success {
				return fmt.Errorf("sync failed: %s", outcome.Error)
			}
			return nil
		},
	}
	cmd.Flags().String("invoice", "", "Invoice id to sync")
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// buildCipher returns the configured PHI field cipher, or nil when no key is
// set (development only; Validate rejects a missing key in production).
func buildCipher(cfg *config.Config) (phi.Cipher, error) {
	key := cfg.EncryptionKey()
	if key == nil {
		return nil, nil
	}
	enc, err := phi.NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// poolTxRunner binds the pool into the transaction-runner shape the billing
// and recon layers expect.
func poolTxRunner(pool *pgxpool.Pool) billing.TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	cipher, err := buildCipher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize field encryption")
	}
	if cipher == nil {
		logger.Warn().Msg("PHI field encryption disabled; identity fields will be stored in plaintext")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("256K", "1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID", "Stripe-Signature"},
	}))
	e.Use(db.ClinicMiddleware(cfg.DefaultClinicID))

	// Repositories
	patients := patient.NewRepoPG(pool, cipher)
	invoices := billing.NewInvoiceRepoPG(pool)
	payments := billing.NewPaymentRepoPG(pool)
	settings := clinic.NewSettingsRepoPG(pool)
	ledger := recon.NewLedgerRepoPG(pool)
	runTx := poolTxRunner(pool)

	// Stripe connectivity
	stripeClient := stripeconn.New(stripeconn.Config{
		APIKey:     cfg.StripeAPIKey,
		Timeout:    time.Duration(cfg.StripeTimeoutSecs) * time.Second,
		MaxRetries: cfg.StripeMaxRetries,
	}, logger)

	// Notifications
	invites := notification.NewInviteService(&notification.LogEmailSender{Log: logger}, logger)

	// Reconciliation pipeline
	matcher := patient.NewMatcher(patients, logger)
	provisioner := patient.NewProvisioner(patients, logger)
	recorder := billing.NewRecorder(invoices, payments, runTx, logger)
	enricher := recon.NewEnricher(stripeClient, logger)
	resolver := recon.NewResolver(patients, matcher, logger)

	orchestrator := recon.NewOrchestrator(recon.OrchestratorDeps{
		Ledger:        ledger,
		Enricher:      enricher,
		Resolver:      resolver,
		Provisioner:   provisioner,
		Backfill:      patients,
		Recorder:      recorder,
		Invoices:      invoices,
		Settings:      settings,
		Subs:          stripeClient,
		Invites:       invites,
		DefaultClinic: cfg.DefaultClinicID,
	}, logger)

	reconciler := recon.NewReconciler(invoices, payments, patients, stripeClient, ledger, runTx, logger)

	handler := recon.NewHandler(orchestrator, reconciler, stripeClient, cfg.StripeWebhookSecret, logger)
	handler.RegisterRoutes(e.Group("/webhooks"), e.Group("/admin"))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
