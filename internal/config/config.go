// Package config loads process configuration from the environment (and an optional .env file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins string
	BodyLimit      int64
}

// DBConfig holds database configuration.
type DBConfig struct {
	URL             string
	MaxConns        int
	ConnMaxLifetime time.Duration
	// Memory selects the in-process document store instead of PostgreSQL.
	Memory bool
}

// RedisConfig holds optional Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds token verification settings for the external auth provider.
type AuthConfig struct {
	SigningKey string
	Issuer     string
}

// MailConfig holds SMTP relay settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// RatesConfig holds exchange-rate API settings.
type RatesConfig struct {
	URL             string
	RefreshInterval time.Duration
	Timeout         time.Duration
	SnapshotTTL     time.Duration
}

// SyncConfig holds status synchronizer settings.
type SyncConfig struct {
	Debounce time.Duration
	LockTTL  time.Duration
}

// OutboxConfig holds outbox processor settings.
type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	DirectApply bool
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// CacheConfig holds company/client cache settings.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// Config holds all configuration.
type Config struct {
	ServiceName string
	Server      ServerConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Mail        MailConfig
	Rates       RatesConfig
	Sync        SyncConfig
	Outbox      OutboxConfig
	Cache       CacheConfig
	Log         LogConfig
}

// Load reads configuration from environment variables. A missing .env file is not an error.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: serviceName,
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Env:            getEnv("APP_ENV", "development"),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
			BodyLimit:      int64(getEnvAsInt("REQUEST_BODY_LIMIT", 1<<20)),
		},
		DB: DBConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			Memory:          getEnvAsBool("DOCSTORE_MEMORY", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			SigningKey: getEnv("AUTH_SIGNING_KEY", ""),
			Issuer:     getEnv("AUTH_ISSUER", ""),
		},
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", "no-reply@invoicehub.local"),
		},
		Rates: RatesConfig{
			URL:             getEnv("RATES_API_URL", "https://open.er-api.com/v6/latest/USD"),
			RefreshInterval: getEnvAsDuration("RATES_REFRESH_INTERVAL", time.Hour),
			Timeout:         getEnvAsDuration("RATES_TIMEOUT", 10*time.Second),
			SnapshotTTL:     getEnvAsDuration("RATES_SNAPSHOT_TTL", 24*time.Hour),
		},
		Sync: SyncConfig{
			Debounce: getEnvAsDuration("SYNC_DEBOUNCE", 750*time.Millisecond),
			LockTTL:  getEnvAsDuration("SYNC_LOCK_TTL", 30*time.Second),
		},
		Outbox: OutboxConfig{
			Interval:    getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
			BatchSize:   getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts: getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
			BaseBackoff: getEnvAsDuration("OUTBOX_BASE_BACKOFF", 5*time.Second),
			MaxBackoff:  getEnvAsDuration("OUTBOX_MAX_BACKOFF", 10*time.Minute),
			DirectApply: getEnvAsBool("OUTBOX_DIRECT_APPLY", true),
		},
		Cache: CacheConfig{
			Size: getEnvAsInt("CACHE_SIZE", 512),
			TTL:  getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.DB.Memory && c.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive, got %d", c.Outbox.MaxAttempts)
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", c.Outbox.BatchSize)
	}
	return nil
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// LogFields returns the non-secret configuration as zap fields for startup logging.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("server_port", c.Server.Port),
		zap.Bool("docstore_memory", c.DB.Memory),
		zap.Bool("redis_enabled", c.Redis.Addr != ""),
		zap.Bool("mail_enabled", c.Mail.Host != ""),
		zap.Duration("sync_debounce", c.Sync.Debounce),
		zap.Duration("outbox_interval", c.Outbox.Interval),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(getEnv(key, ""))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
