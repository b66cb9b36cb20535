// Package config loads service configuration. Sources are applied in order,
// later ones winning: built-in defaults, an optional YAML file, an optional
// .env file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Storage  StorageConfig  `yaml:"storage"`
	Payment  PaymentConfig  `yaml:"payment"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Mail     MailConfig     `yaml:"mail"`
}

type AppConfig struct {
	Name            string        `yaml:"name" env:"APP_NAME"`
	Port            string        `yaml:"port" env:"APP_PORT"`
	Environment     string        `yaml:"environment" env:"APP_ENV"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" env:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"APP_SHUTDOWN_TIMEOUT"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            string        `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	DBName          string        `yaml:"dbname" env:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSLMODE"`
	MaxConns        int32         `yaml:"max_conns" env:"DB_MAX_CONNS"`
	MinConns        int32         `yaml:"min_conns" env:"DB_MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME"`
	MigrationsPath  string        `yaml:"migrations_path" env:"DB_MIGRATIONS_PATH"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER"`
	// CatalogFile seeds the memory driver's catalog.
	CatalogFile string `yaml:"catalog_file" env:"CATALOG_FILE"`
}

type PaymentConfig struct {
	BaseURL         string        `yaml:"base_url" env:"PAYMENT_API_URL"`
	AccessToken     string        `yaml:"access_token" env:"PAYMENT_ACCESS_TOKEN"`
	Sandbox         bool          `yaml:"sandbox" env:"PAYMENT_SANDBOX"`
	Currency        string        `yaml:"currency" env:"PAYMENT_CURRENCY"`
	Timeout         time.Duration `yaml:"timeout" env:"PAYMENT_TIMEOUT"`
	SuccessURL      string        `yaml:"success_url" env:"PAYMENT_SUCCESS_URL"`
	FailureURL      string        `yaml:"failure_url" env:"PAYMENT_FAILURE_URL"`
	PendingURL      string        `yaml:"pending_url" env:"PAYMENT_PENDING_URL"`
	NotificationURL string        `yaml:"notification_url" env:"PAYMENT_NOTIFICATION_URL"`
}

type WebhookConfig struct {
	Secret             string        `yaml:"secret" env:"WEBHOOK_SECRET"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"WEBHOOK_INSECURE_SKIP_VERIFY"`
	MaxSkew            time.Duration `yaml:"max_skew" env:"WEBHOOK_MAX_SKEW"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes" env:"WEBHOOK_MAX_BODY_BYTES"`
}

// RedisConfig enables webhook delivery dedupe when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"REDIS_ADDR"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB"`
	DedupeTTL time.Duration `yaml:"dedupe_ttl" env:"REDIS_DEDUPE_TTL"`
}

// AuthConfig enables customer identity on checkout when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
}

// MailConfig switches confirmations from the log notifier to SMTP when
// SMTPHost is set.
type MailConfig struct {
	SMTPHost string        `yaml:"smtp_host" env:"MAIL_SMTP_HOST"`
	SMTPPort int           `yaml:"smtp_port" env:"MAIL_SMTP_PORT"`
	Username string        `yaml:"username" env:"MAIL_USERNAME"`
	Password string        `yaml:"password" env:"MAIL_PASSWORD"`
	From     string        `yaml:"from" env:"MAIL_FROM"`
	Timeout  time.Duration `yaml:"timeout" env:"MAIL_TIMEOUT"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.App.Name = "settlement-service"
	cfg.App.Port = "8080"
	cfg.App.Environment = "development"
	cfg.App.LogLevel = "info"
	cfg.App.ShutdownTimeout = 10 * time.Second

	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 1
	cfg.Postgres.MaxConnLifetime = time.Hour
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.Storage.Driver = DriverPostgres

	cfg.Payment.BaseURL = "https://api.mercadopago.com"
	cfg.Payment.Currency = "USD"
	cfg.Payment.Timeout = 10 * time.Second

	cfg.Webhook.MaxBodyBytes = 1 << 20

	cfg.Redis.DedupeTTL = 24 * time.Hour

	cfg.Mail.SMTPPort = 587
	cfg.Mail.Timeout = 10 * time.Second
	return cfg
}

// Load builds the configuration. configFile and envFile are optional; a
// missing .env file is not an error, a missing YAML file that was asked for is.
func Load(configFile, envFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configFile, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Port == "" {
		errs = append(errs, errors.New("APP_PORT is required"))
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		for name, v := range map[string]string{
			"DB_HOST": c.Postgres.Host,
			"DB_PORT": c.Postgres.Port,
			"DB_USER": c.Postgres.User,
			"DB_NAME": c.Postgres.DBName,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("%s is required for the postgres storage driver", name))
			}
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	if c.Payment.AccessToken == "" {
		errs = append(errs, errors.New("PAYMENT_ACCESS_TOKEN is required"))
	}
	if c.Payment.Timeout <= 0 {
		errs = append(errs, errors.New("PAYMENT_TIMEOUT must be positive"))
	}
	if c.Webhook.Secret == "" && !c.Webhook.InsecureSkipVerify {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required unless WEBHOOK_INSECURE_SKIP_VERIFY=true"))
	}
	if c.Webhook.Secret != "" && c.Webhook.InsecureSkipVerify {
		errs = append(errs, errors.New("WEBHOOK_INSECURE_SKIP_VERIFY must not be set together with WEBHOOK_SECRET"))
	}
	if c.Webhook.MaxSkew < 0 {
		errs = append(errs, errors.New("WEBHOOK_MAX_SKEW must not be negative"))
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("WEBHOOK_MAX_BODY_BYTES must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.DedupeTTL <= 0 {
		errs = append(errs, errors.New("REDIS_DEDUPE_TTL must be positive"))
	}
	if c.Mail.SMTPHost != "" {
		if c.Mail.From == "" {
			errs = append(errs, errors.New("MAIL_FROM is required when MAIL_SMTP_HOST is set"))
		}
		if c.Mail.Timeout <= 0 {
			errs = append(errs, errors.New("MAIL_TIMEOUT must be positive"))
		}
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in a developer environment.
// It picks the console log writer when no log format is configured.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "local"
}
