package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cassiomorais/billing/internal/application/billing"
	"github.com/cassiomorais/billing/internal/application/dunning"
	webhookApp "github.com/cassiomorais/billing/internal/application/webhook"
	"github.com/cassiomorais/billing/internal/bootstrap"
	"github.com/cassiomorais/billing/internal/fx"
	"github.com/cassiomorais/billing/internal/gateway"
	infraRedis "github.com/cassiomorais/billing/internal/infrastructure/redis"
	"github.com/cassiomorais/billing/internal/jobs"
	"github.com/cassiomorais/billing/internal/notify"
	"github.com/cassiomorais/billing/internal/repository/postgres"
	"github.com/cassiomorais/billing/internal/secret"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "billing-worker", "billing_worker")
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

	machine := dunning.NewMachine(subRepo, billingSvc, tenantRepo, queue, notifier, txManager, auditRepo, dunning.Config{
		MaxAttempts:       cfg.Dunning.MaxAttempts,
		RetryScheduleDays: cfg.Dunning.RetryScheduleDays,
		DebounceWindow:    cfg.Dunning.DebounceWindow,
	}, app.Logger)

	webhookHandler := webhookApp.NewBillingHandler(subRepo, secrets, machine, tenantRepo, app.Logger)
	pipeline, err := webhookApp.NewPipeline(webhookRepo, webhookHandler, webhookApp.Config{
		Secret:       cfg.Webhook.Secret,
		StrictOrigin: cfg.Webhook.StrictOrigin,
		AllowedIPs:   cfg.Webhook.AllowedIPs,
	}, app.Logger)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build webhook pipeline")
	}

	// --- Job stream consumer ---
	consumer := jobs.NewStreamConsumer(
		app.Redis,
		cfg.Worker.ConsumerGroup,
		cfg.InstanceID,
		cfg.Worker.BatchSize,
		cfg.Worker.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to create consumer group")
	}

	runner := &jobRunner{
		app:      app,
		subs:     subRepo,
		hooks:    webhookRepo,
		billing:  billingSvc,
		machine:  machine,
		pipeline: pipeline,
		queue:    queue,
		consumer: consumer,
	}

	app.Logger.Info().
		Str("stream", jobs.BillingStream).
		Str("group", cfg.Worker.ConsumerGroup).
		Str("consumer", cfg.InstanceID).
		Msg("Worker started, listening for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Job runner (dunning retries, renewal charges, webhook replays).
	g.Go(func() error {
		return runner.run(gCtx)
	})

	// 2. Scheduler promoter (moves due parked jobs onto the stream).
	g.Go(func() error {
		return runner.promoteScheduled(gCtx, time.Second)
	})

	// 3. Renewal scanner (finds due subscriptions and enqueues charges).
	g.Go(func() error {
		return runner.scanRenewals(gCtx, cfg.Worker.ScanInterval, cfg.Billing.RenewalBatchSize)
	})

	// 4. Webhook retrier (replays queued records past the retry interval).
	g.Go(func() error {
		return runner.retryWebhooks(gCtx, cfg.Webhook.RetryInterval, cfg.Webhook.RetryMax)
	})

	// 5. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

type jobRunner struct {
	app      *bootstrap.App
	subs     *postgres.SubscriptionRepository
	hooks    *postgres.WebhookRepository
	billing  *billing.Service
	machine  *dunning.Machine
	pipeline *webhookApp.Pipeline
	queue    *jobs.StreamQueue
	consumer *jobs.StreamConsumer
}

func (r *jobRunner) run(ctx context.Context) error {
	logger := r.app.Logger
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		batch, ids, err := r.consumer.Read(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read job stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for i, job := range batch {
			if job.RunAt > time.Now().Unix() {
				// Read before its time (clock skew between instances);
				// park it back in the scheduled set and ack the original.
				if _, err := r.queue.EnqueueAt(ctx, job.Type, job.Payload, job.TenantID, job.RunAt); err != nil {
					logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to repark future job")
					continue
				}
				r.consumer.Ack(ctx, ids[i])
				continue
			}

			start := time.Now()
			err := r.dispatch(ctx, job, logger)
			status := "success"
			if err != nil {
				status = "error"
				logger.Error().Err(err).
					Str("job_id", job.ID).
					Str("job_type", string(job.Type)).
					Str("tenant_id", job.TenantID.String()).
					Msg("Job failed")
			}
			r.app.Metrics.WorkerMessagesProcessed.WithLabelValues(jobs.BillingStream, status).Inc()
			r.app.Metrics.WorkerProcessingDuration.WithLabelValues(jobs.BillingStream).Observe(time.Since(start).Seconds())
			r.consumer.Ack(ctx, ids[i])
		}
	}
}

func (r *jobRunner) dispatch(ctx context.Context, job jobs.Job, logger zerolog.Logger) error {
	switch job.Type {
	case jobs.TypeChargeRenewal:
		return r.chargeRenewal(ctx, job.TenantID, logger)
	case jobs.TypeDunningRetry:
		return r.dunningRetry(ctx, job.TenantID, logger)
	default:
		logger.Warn().Str("job_type", string(job.Type)).Msg("Unknown job type, dropping")
		return nil
	}
}

func (r *jobRunner) chargeRenewal(ctx context.Context, tenantID uuid.UUID, logger zerolog.Logger) error {
	lock := infraRedis.NewChargeLock(r.app.Redis, tenantID.String(), r.app.Config.Billing.ChargeLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Warn().Str("tenant_id", tenantID.String()).Msg("Charge already in flight, skipping")
		return nil
	}
	defer lock.Release(ctx)

	sub, err := r.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	result := r.billing.ChargeRenewal(ctx, sub)
	r.app.Metrics.ChargesTotal.WithLabelValues("renewal", string(result.Outcome)).Inc()
	if result.Success() {
		return nil
	}

	outcome, err := r.machine.ProcessFailedPayment(ctx, tenantID, false)
	if err != nil {
		return err
	}
	r.app.Metrics.DunningOutcomes.WithLabelValues(string(outcome)).Inc()
	return nil
}

func (r *jobRunner) dunningRetry(ctx context.Context, tenantID uuid.UUID, logger zerolog.Logger) error {
	lock := infraRedis.NewChargeLock(r.app.Redis, tenantID.String(), r.app.Config.Billing.ChargeLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Warn().Str("tenant_id", tenantID.String()).Msg("Charge already in flight, skipping")
		return nil
	}
	defer lock.Release(ctx)

	outcome, err := r.machine.RetryPayment(ctx, tenantID)
	if err != nil {
		return err
	}
	r.app.Metrics.DunningOutcomes.WithLabelValues(string(outcome)).Inc()
	logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("outcome", string(outcome)).
		Msg("Dunning retry completed")
	return nil
}

// scanRenewals periodically enqueues charge jobs for subscriptions whose
// next payment date has passed.
// promoteScheduled moves parked future jobs onto the stream once their run
// time arrives.
func (r *jobRunner) promoteScheduled(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.queue.PromoteDue(ctx, time.Now(), 100); err != nil {
				r.app.Logger.Error().Err(err).Msg("Failed to promote scheduled jobs")
			}
		}
	}
}

func (r *jobRunner) scanRenewals(ctx context.Context, interval time.Duration, batchSize int) error {
	logger := r.app.Logger
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		due, err := r.subs.ListDueForRenewal(ctx, time.Now(), batchSize)
		if err != nil {
			logger.Error().Err(err).Msg("Renewal scan failed")
			continue
		}
		for _, sub := range due {
			if _, err := r.queue.Enqueue(ctx, jobs.TypeChargeRenewal, nil, sub.TenantID); err != nil {
				logger.Error().Err(err).
					Str("tenant_id", sub.TenantID.String()).
					Msg("Failed to enqueue renewal charge")
			}
		}
		if len(due) > 0 {
			logger.Info().Int("count", len(due)).Msg("Enqueued due renewals")
		}
	}
}

// retryWebhooks replays queued webhook records that have sat past the
// retry interval, until the attempt budget parks them as failed.
func (r *jobRunner) retryWebhooks(ctx context.Context, interval time.Duration, maxAttempts int) error {
	logger := r.app.Logger
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		records, err := r.hooks.ListQueued(ctx, time.Now().Add(-interval), 50)
		if err != nil {
			logger.Error().Err(err).Msg("Webhook retry scan failed")
			continue
		}
		for _, record := range records {
			if err := r.pipeline.Replay(ctx, record, maxAttempts); err != nil {
				logger.Warn().Err(err).
					Str("record_id", record.ID.String()).
					Int("attempts", record.Attempts).
					Msg("Webhook replay failed")
			}
		}
	}
}
