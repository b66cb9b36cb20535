package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/db"
	handler "github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/payment/mercadopago"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/settlement"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/storage/memory"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/storage/postgres"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/webhook"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Apply pending migrations before starting")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrateFirst bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log.Info().Str("storage", cfg.Storage.Driver).Str("env", cfg.App.Environment).Msg("Settlement service starting...")

	store, closeStore, err := openStore(ctx, cfg, migrateFirst)
	if err != nil {
		return err
	}
	defer closeStore()

	dedupe, closeDedupe, err := openDeduplicator(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeDedupe()

	verifier, err := webhook.NewVerifier(webhook.Config{
		Secret:             cfg.Webhook.Secret,
		InsecureSkipVerify: cfg.Webhook.InsecureSkipVerify,
		MaxSkew:            cfg.Webhook.MaxSkew,
	})
	if err != nil {
		return err
	}

	provider := mercadopago.NewClient(mercadopago.Config{
		BaseURL:     cfg.Payment.BaseURL,
		AccessToken: cfg.Payment.AccessToken,
		Sandbox:     cfg.Payment.Sandbox,
		Timeout:     cfg.Payment.Timeout,
	})
	broker := payment.NewSessionBroker(provider, payment.BrokerConfig{
		Currency: cfg.Payment.Currency,
		Timeout:  cfg.Payment.Timeout,
		BackURLs: payment.BackURLs{
			Success: cfg.Payment.SuccessURL,
			Failure: cfg.Payment.FailureURL,
			Pending: cfg.Payment.PendingURL,
		},
		NotificationURL: cfg.Payment.NotificationURL,
	})

	ledger := order.NewLedger(store)
	reconciler := settlement.NewReconciler(ledger, provider, newNotifier(cfg.Mail), cfg.Mail.Timeout)

	var identity *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		identity = auth.NewVerifier(cfg.Auth.JWTSecret)
	}

	router := handler.NewRouter(
		handler.NewCheckoutHandler(checkout.NewService(cart.NewValidator(store), ledger, broker)),
		handler.NewWebhookHandler(verifier, reconciler, dedupe, cfg.Webhook.MaxBodyBytes),
		identity,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Payment.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	reconciler.Wait()
	log.Info().Msg("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, migrateFirst bool) (order.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		store := memory.New()
		if cfg.Storage.CatalogFile != "" {
			items, err := memory.LoadCatalog(cfg.Storage.CatalogFile)
			if err != nil {
				return nil, nil, err
			}
			store = memory.New(items...)
			log.Info().Int("items", len(items)).Str("file", cfg.Storage.CatalogFile).Msg("Loaded catalog into memory store")
		}
		log.Warn().Msg("Using in-memory storage, orders are lost on restart")
		return store, func() {}, nil

	case config.DriverPostgres:
		if migrateFirst {
			if err := db.ApplyMigrations(cfg.Postgres); err != nil {
				return nil, nil, err
			}
		}
		conn, err := db.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(conn.Pool), conn.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openDeduplicator(ctx context.Context, cfg config.RedisConfig) (webhook.Deduplicator, func(), error) {
	if cfg.Addr == "" {
		return webhook.NopDeduplicator{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Dur("ttl", cfg.DedupeTTL).Msg("Webhook dedupe enabled")
	return webhook.NewRedisDeduplicator(client, cfg.DedupeTTL), func() { _ = client.Close() }, nil
}

func newNotifier(cfg config.MailConfig) notify.Notifier {
	if cfg.SMTPHost == "" {
		return notify.LogNotifier{}
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	})
}
