package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	FX            FXConfig            `mapstructure:"fx"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Dunning       DunningConfig       `mapstructure:"dunning"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// GatewayConfig configures the payment-processor client.
type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// FXConfig configures the exchange-rate client.
type FXConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BillingConfig holds currency and checkout policy.
type BillingConfig struct {
	DefaultCurrency    string        `mapstructure:"default_currency"`
	USDCheckoutEnabled bool          `mapstructure:"usd_checkout_enabled"`
	EncryptionKey      string        `mapstructure:"encryption_key"`
	ChargeLockTTL      time.Duration `mapstructure:"charge_lock_ttl"`
	RenewalBatchSize   int           `mapstructure:"renewal_batch_size"`
}

// DunningConfig bounds the retry schedule for failed recurring charges.
type DunningConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryScheduleDays []int         `mapstructure:"retry_schedule_days"`
	DebounceWindow    time.Duration `mapstructure:"debounce_window"`
}

// BreakerConfig configures the gateway circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	ProbeTTL         time.Duration `mapstructure:"probe_ttl"`
	SharedState      bool          `mapstructure:"shared_state"`
}

// WebhookConfig configures inbound callback verification.
type WebhookConfig struct {
	Secret          string        `mapstructure:"secret"`
	SignatureHeader string        `mapstructure:"signature_header"`
	StrictOrigin    bool          `mapstructure:"strict_origin"`
	AllowedIPs      []string      `mapstructure:"allowed_ips"`
	RetryMax        int           `mapstructure:"retry_max"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
}

type WorkerConfig struct {
	BatchSize     int64         `mapstructure:"batch_size"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("BILLING")
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/billing")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Billing.DefaultCurrency == "" {
		errs = append(errs, fmt.Errorf("billing.default_currency is required"))
	}
	if c.Billing.ChargeLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("billing.charge_lock_ttl must be positive"))
	}
	if c.Dunning.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("dunning.max_attempts must be positive"))
	}
	if len(c.Dunning.RetryScheduleDays) == 0 {
		errs = append(errs, fmt.Errorf("dunning.retry_schedule_days must not be empty"))
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker.failure_threshold must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Gateway.SecretKey == "" {
			errs = append(errs, fmt.Errorf("gateway.secret_key required in production"))
		}
		if c.Webhook.Secret == "" {
			errs = append(errs, fmt.Errorf("webhook.secret required in production"))
		}
		if c.Billing.EncryptionKey == "" {
			errs = append(errs, fmt.Errorf("billing.encryption_key required in production"))
		}
	}

	// AES-256 needs exactly 32 key bytes
	if c.Billing.EncryptionKey != "" && len(c.Billing.EncryptionKey) != 32 {
		errs = append(errs, fmt.Errorf("billing.encryption_key must be exactly 32 bytes"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "billing")
	v.SetDefault("database.database", "billing")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Gateway defaults
	v.SetDefault("gateway.base_url", "https://api.paystack.co")
	v.SetDefault("gateway.timeout", "30s")

	// FX defaults
	v.SetDefault("fx.base_url", "http://localhost:9040")
	v.SetDefault("fx.timeout", "10s")

	// Billing defaults
	v.SetDefault("billing.default_currency", "NGN")
	v.SetDefault("billing.usd_checkout_enabled", false)
	v.SetDefault("billing.charge_lock_ttl", "60s")
	v.SetDefault("billing.renewal_batch_size", 100)

	// Dunning defaults
	v.SetDefault("dunning.max_attempts", 3)
	v.SetDefault("dunning.retry_schedule_days", []int{1, 3, 7})
	v.SetDefault("dunning.debounce_window", "2m")

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.open_timeout", "30s")
	v.SetDefault("breaker.probe_ttl", "10s")
	v.SetDefault("breaker.shared_state", true)

	// Webhook defaults
	v.SetDefault("webhook.signature_header", "X-Gateway-Signature")
	v.SetDefault("webhook.strict_origin", false)
	v.SetDefault("webhook.retry_max", 5)
	v.SetDefault("webhook.retry_interval", "1m")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.scan_interval", "1m")
	v.SetDefault("worker.consumer_group", "billing-workers")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID
	v.SetDefault("instance_id", "billing-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
