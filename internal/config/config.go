// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// VaultKeySecret derives the symmetric key for the credential vault.
	VaultKeySecret string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Sync      SyncConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
}

// SyncConfig controls the catalog auto-refresh driver.
type SyncConfig struct {
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
}

// BillingConfig controls the billing sweep driver.
type BillingConfig struct {
	SweepInterval      time.Duration
	SweepWindow        time.Duration
	ResolveMaxAttempts int
	PlanFile           string
}

// RateLimitConfig guards the usage webhook. Disabled unless a redis
// address is configured.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TenantRate  float64
	TenantBurst int

	SweepLockTTL time.Duration
}

// Module provides the loaded configuration.
var Module = fx.Provide(Load)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:        getenv("APP_SERVICE", "gatemeter"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", "development"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		VaultKeySecret: strings.TrimSpace(getenv("VAULT_KEY_SECRET", "")),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "gatemeter"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 3600)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 600)),

		Sync: SyncConfig{
			RefreshInterval: getenvDuration("SYNC_REFRESH_INTERVAL", 5*time.Minute),
			RequestTimeout:  getenvDuration("SYNC_REQUEST_TIMEOUT", 30*time.Second),
		},
		Billing: BillingConfig{
			SweepInterval:      getenvDuration("BILLING_SWEEP_INTERVAL", time.Minute),
			SweepWindow:        getenvDuration("BILLING_SWEEP_WINDOW", 24*time.Hour),
			ResolveMaxAttempts: int(getenvInt64("BILLING_RESOLVE_MAX_ATTEMPTS", 5)),
			PlanFile:           getenv("BILLING_PLAN_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			TenantRate:    getenvFloat("RATE_LIMIT_TENANT_RATE", 100),
			TenantBurst:   int(getenvInt64("RATE_LIMIT_TENANT_BURST", 200)),
			SweepLockTTL:  getenvDuration("RATE_LIMIT_SWEEP_LOCK_TTL", 5*time.Minute),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
