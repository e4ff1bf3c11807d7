package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entitlement-api/internal/api"
	"entitlement-api/internal/config"
	"entitlement-api/internal/database"
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "entitlement-api",
		Short:         "Premium entitlement service for paired accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := bootstrap(); err != nil {
				return err
			}
			defer database.CloseDatabase()

			logging.Infof("Database migrated")
			return nil
		},
	})
	cmd.AddCommand(newReconcileCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return cmd
}

const reconcileLong = `Recompute premium for every accepted pairing of one user.
When PREMIUM_WEBHOOK_URL is set, the command waits for webhook delivery,
retries included, before exiting.`

func newReconcileCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute premium for every accepted pairing of one user",
		Long:  reconcileLong,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			defer database.CloseDatabase()

			// The process exits right after, so webhook delivery must finish first.
			result, err := newEntitlementService(cfg, true).Reconcile(cmd.Context(), userID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id whose pairings are reconciled")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// bootstrap loads configuration, logging and the database.
func bootstrap() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	if err := database.InitDatabase(cfg); err != nil {
		logging.Errorf("Failed to initialize database: %v", err)
		return nil, err
	}
	return cfg, nil
}

// newEntitlementService wires the stores and, when configured, the premium
// webhook. blockingNotify makes Reconcile wait for delivery.
func newEntitlementService(cfg *config.Config, blockingNotify bool) *services.EntitlementService {
	var opts []services.Option
	if cfg.PremiumWebhookURL != "" {
		notifier := services.NewWebhookNotifier(cfg.PremiumWebhookURL, cfg.PremiumWebhookSecret)
		if blockingNotify {
			opts = append(opts, services.WithBlockingNotifier(notifier))
		} else {
			opts = append(opts, services.WithNotifier(notifier))
		}
	}

	return services.NewEntitlementService(
		database.NewIOSSubscriptionStore(database.DB),
		database.NewAndroidSubscriptionStore(database.DB),
		database.NewPairingStore(database.DB),
		database.NewUserStore(database.DB),
		opts...,
	)
}

func newSubmissionLimiter(cfg *config.Config) (services.SubmissionLimiter, func()) {
	window := time.Duration(cfg.ReceiptRateWindowSeconds) * time.Second

	if database.RedisClient != nil {
		return services.NewRedisSubmissionLimiter(database.RedisClient, cfg.ReceiptRateLimit, window), func() {}
	}

	limiter := services.NewMemorySubmissionLimiter(cfg.ReceiptRateLimit, window)
	limiter.StartCleanup(5 * time.Minute)
	return limiter, limiter.Stop
}

func runServe() error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.CloseDatabase()

	if cfg.JWTSecret == "" {
		logging.Warnf("JWT_SECRET is not set, every /api request will be rejected")
	}

	limiter, stopLimiter := newSubmissionLimiter(cfg)
	defer stopLimiter()

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	api.SetupRoutes(r,
		api.NewSubscriptionHandler(newEntitlementService(cfg, false)),
		middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		limiter,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Errorf("Failed to start server: %v", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Infof("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
