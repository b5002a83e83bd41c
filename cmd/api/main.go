package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/billing/internal/application/billing"
	"github.com/cassiomorais/billing/internal/application/dunning"
	webhookApp "github.com/cassiomorais/billing/internal/application/webhook"
	"github.com/cassiomorais/billing/internal/bootstrap"
	"github.com/cassiomorais/billing/internal/controller"
	"github.com/cassiomorais/billing/internal/fx"
	"github.com/cassiomorais/billing/internal/gateway"
	"github.com/cassiomorais/billing/internal/jobs"
	"github.com/cassiomorais/billing/internal/notify"
	"github.com/cassiomorais/billing/internal/repository/postgres"
	"github.com/cassiomorais/billing/internal/secret"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "billing-api", "billing")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config

	// --- Repositories ---
	subRepo := postgres.NewSubscriptionRepository(app.Pool)
	webhookRepo := postgres.NewWebhookRepository(app.Pool)
	pricingRepo := postgres.NewPricingRepository(app.Pool)
	tenantRepo := postgres.NewTenantRepository(app.Pool)
	auditRepo := postgres.NewAuditRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Clients ---
	secrets, err := secret.NewAESCodec([]byte(cfg.Billing.EncryptionKey))
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Invalid encryption key")
	}

	gatewayClient, err := gateway.New(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		SecretKey: cfg.Gateway.SecretKey,
		Timeout:   cfg.Gateway.Timeout,
	}, app.Breakers, app.BreakerConfig())
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build gateway client")
	}

	fxClient := fx.NewClient(cfg.FX.BaseURL, cfg.FX.Timeout)
	queue := jobs.NewStreamQueue(app.Redis)
	notifier := notify.NewStreamSender(app.Redis, app.Logger)

	// --- Application services ---
	resolver := billing.NewCurrencyResolver(fxClient, billing.CurrencyConfig{
		DefaultCurrency:    cfg.Billing.DefaultCurrency,
		USDCheckoutEnabled: cfg.Billing.USDCheckoutEnabled,
	})
	billingSvc := billing.NewService(subRepo, gatewayClient, resolver, pricingRepo, tenantRepo, secrets, auditRepo, app.Logger)

	dunningMachine := dunning.NewMachine(subRepo, billingSvc, tenantRepo, queue, notifier, txManager, auditRepo, dunning.Config{
		MaxAttempts:       cfg.Dunning.MaxAttempts,
		RetryScheduleDays: cfg.Dunning.RetryScheduleDays,
		DebounceWindow:    cfg.Dunning.DebounceWindow,
	}, app.Logger)

	webhookHandler := webhookApp.NewBillingHandler(subRepo, secrets, dunningMachine, tenantRepo, app.Logger)
	pipeline, err := webhookApp.NewPipeline(webhookRepo, webhookHandler, webhookApp.Config{
		Secret:       cfg.Webhook.Secret,
		StrictOrigin: cfg.Webhook.StrictOrigin,
		AllowedIPs:   cfg.Webhook.AllowedIPs,
	}, app.Logger)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build webhook pipeline")
	}

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Billing:  controller.NewBillingController(billingSvc, subRepo, app.Logger),
		Webhook:  controller.NewWebhookController(pipeline, cfg.Webhook.SignatureHeader, app.Logger),
		Health:   controller.NewHealthController(app.Pool, app.Redis),
		Metrics:  app.Metrics,
		Registry: app.Registry,
		CORS:     cfg.Server.CORS,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
