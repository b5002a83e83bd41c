package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cassiomorais/billing/internal/infrastructure/config"
	"github.com/cassiomorais/billing/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/billing/internal/infrastructure/redis"
	"github.com/cassiomorais/billing/internal/repository/postgres"
	"github.com/cassiomorais/billing/pkg/breaker"
	"github.com/cassiomorais/billing/pkg/retry"
)

// App bundles the process-wide infrastructure shared by the api and worker
// binaries.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Breakers *breaker.Registry
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(serviceName, cfg.Observability.LogLevel, os.Stdout)
	logger.Info().Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(metricsNamespace, registry)

	connectRetry := retry.DefaultConfig()
	connectRetry.OnRetry = func(attempt uint, err error) {
		logger.Warn().Err(err).Uint("attempt", attempt).Msg("Infrastructure not ready, retrying")
	}

	pool, err := retry.DoWithResult(ctx, connectRetry, func() (*pgxpool.Pool, error) {
		return postgres.NewPool(ctx, &cfg.Database)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := retry.DoWithResult(ctx, connectRetry, func() (*redis.Client, error) {
		return infraRedis.NewClient(ctx, &cfg.Redis)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	breakers := newBreakerRegistry(cfg, redisClient, metrics, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Redis:    redisClient,
		Metrics:  metrics,
		Registry: registry,
		Breakers: breakers,
	}, nil
}

// breakerStates maps circuit states onto the state gauge.
var breakerStates = map[breaker.State]float64{
	breaker.StateClosed:   0,
	breaker.StateOpen:     1,
	breaker.StateHalfOpen: 2,
}

func newBreakerRegistry(cfg *config.Config, redisClient *redis.Client, metrics *observability.Metrics, logger zerolog.Logger) *breaker.Registry {
	opts := []breaker.Option{
		breaker.WithStateChangeHook(func(name string, from, to breaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", string(from)).
				Str("to", string(to)).
				Msg("circuit breaker state change")
			metrics.ObserveBreakerState(name, breakerStates[to])
		}),
	}
	if cfg.Breaker.SharedState {
		opts = append(opts, breaker.WithSharedStore(
			infraRedis.NewBreakerStore(redisClient, "billing:breaker"),
		))
	}
	return breaker.NewRegistry(opts...)
}

// BreakerConfig translates the config section into breaker settings.
func (a *App) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: a.Config.Breaker.FailureThreshold,
		SuccessThreshold: a.Config.Breaker.SuccessThreshold,
		Timeout:          a.Config.Breaker.OpenTimeout,
		ProbeTTL:         a.Config.Breaker.ProbeTTL,
	}
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}
