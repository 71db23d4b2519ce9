// Package config provides configuration management for the form service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Notification providers.
const (
	ProviderResend = "resend"
	ProviderLog    = "log"
)

// Idempotency backends.
const (
	IdempotencyRedis  = "redis"
	IdempotencyMemory = "memory"
)

// Config holds all configuration for the form service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Tenants       TenantsConfig       `mapstructure:"tenants"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Captcha       CaptchaConfig       `mapstructure:"captcha"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Health        HealthConfig        `mapstructure:"health"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// TenantsConfig selects where the project map comes from. ProjectConfig is
// the inline JSON map and wins over Path.
type TenantsConfig struct {
	ProjectConfig string `mapstructure:"project_config"`
	Path          string `mapstructure:"path"`
}

// StorageConfig selects and configures the tabular storage backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Sheets   SheetsConfig   `mapstructure:"sheets"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Memory   MemoryConfig   `mapstructure:"memory"`
}

// SheetsConfig holds the Google service account.
type SheetsConfig struct {
	ServiceAccountEmail string `mapstructure:"service_account_email"`
	PrivateKey          string `mapstructure:"private_key"`
	Endpoint            string `mapstructure:"endpoint"`
}

// PostgresConfig holds the Postgres backend connection.
type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// MemoryConfig holds the in-memory backend seed.
type MemoryConfig struct {
	SeedPath string `mapstructure:"seed_path"`
}

// CaptchaConfig holds Turnstile verification settings.
type CaptchaConfig struct {
	Secret    string `mapstructure:"secret"`
	VerifyURL string `mapstructure:"verify_url"`
}

// NotifyConfig holds email delivery settings.
type NotifyConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	From     string `mapstructure:"from"`
	BaseURL  string `mapstructure:"base_url"`
}

// IdempotencyConfig holds the optional Idempotency-Key store.
type IdempotencyConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Backend    string        `mapstructure:"backend"`
	RedisURL   string        `mapstructure:"redis_url"`
	TTL        time.Duration `mapstructure:"ttl"`
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// CollaboratorsConfig bounds calls to storage, captcha and email.
type CollaboratorsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// HealthConfig holds readiness check settings.
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps config keys to the unprefixed variables of earlier
// deployments.
var legacyEnv = map[string]string{
	"tenants.project_config":               "PROJECT_CONFIG",
	"storage.sheets.service_account_email": "GOOGLE_SERVICE_ACCOUNT_EMAIL",
	"storage.sheets.private_key":           "GOOGLE_PRIVATE_KEY",
	"storage.postgres.dsn":                 "DATABASE_URL",
	"captcha.secret":                       "TURNSTILE_SECRET",
	"notify.api_key":                       "RESEND_API_KEY",
	"idempotency.redis_url":                "REDIS_URL",
	"logging.level":                        "LOG_LEVEL",
	"logging.format":                       "LOG_FORMAT",
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. Variables that are already set are kept. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sheetforms/")
	}

	// Read environment variables
	v.SetEnvPrefix("SHEETFORMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "SHEETFORMS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Read config file (ignore if not found, use defaults/env)
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

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "75s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Tenant defaults
	v.SetDefault("tenants.project_config", "")
	v.SetDefault("tenants.path", "")

	// Storage defaults
	v.SetDefault("storage.backend", BackendSheets)
	v.SetDefault("storage.sheets.service_account_email", "")
	v.SetDefault("storage.sheets.private_key", "")
	v.SetDefault("storage.sheets.endpoint", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.migrate", true)
	v.SetDefault("storage.memory.seed_path", "")

	// Captcha defaults
	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.verify_url", "https://challenges.cloudflare.com/turnstile/v0/siteverify")

	// Notification defaults
	v.SetDefault("notify.provider", ProviderResend)
	v.SetDefault("notify.api_key", "")
	v.SetDefault("notify.from", "Forms <onboarding@resend.dev>")
	v.SetDefault("notify.base_url", "")

	// Idempotency defaults
	v.SetDefault("idempotency.enabled", false)
	v.SetDefault("idempotency.backend", IdempotencyRedis)
	v.SetDefault("idempotency.redis_url", "")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.pending_ttl", "5m")
	v.SetDefault("idempotency.max_entries", 10000)

	// Collaborator defaults
	v.SetDefault("collaborators.timeout", "30s")

	// Health defaults
	v.SetDefault("health.interval", "15s")
	v.SetDefault("health.timeout", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	if c.Collaborators.Timeout <= 0 {
		return fmt.Errorf("collaborator timeout must be positive")
	}

	switch c.Storage.Backend {
	case BackendSheets:
		if c.Storage.Sheets.ServiceAccountEmail == "" || c.Storage.Sheets.PrivateKey == "" {
			return fmt.Errorf("sheets backend requires a service account email and private key")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres backend requires a dsn")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.Captcha.Secret == "" {
		return fmt.Errorf("captcha secret is required")
	}

	switch c.Notify.Provider {
	case ProviderResend:
		if c.Notify.APIKey == "" {
			return fmt.Errorf("resend provider requires an api key")
		}
	case ProviderLog:
	default:
		return fmt.Errorf("unknown notify provider: %q", c.Notify.Provider)
	}

	if c.Idempotency.Enabled {
		if c.Idempotency.TTL <= 0 {
			return fmt.Errorf("idempotency ttl must be positive")
		}
		switch c.Idempotency.Backend {
		case IdempotencyRedis:
			if c.Idempotency.RedisURL == "" {
				return fmt.Errorf("redis idempotency backend requires a url")
			}
		case IdempotencyMemory:
		default:
			return fmt.Errorf("unknown idempotency backend: %q", c.Idempotency.Backend)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port %d collides with server port", c.Metrics.Port)
		}
	}

	return nil
}
