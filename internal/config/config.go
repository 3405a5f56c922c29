package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Sync     SyncConfig
	Device   DeviceConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// SyncConfig holds reconciliation and sync-queue tuning.
type SyncConfig struct {
	// Epsilon is the over-delivery tolerance applied to ledger conservation
	// checks. Zero means exact.
	Epsilon decimal.Decimal

	// FlushInterval is how often the device drains its queue while online.
	FlushInterval time.Duration

	// BackoffBase and BackoffCap bound the retry backoff for transient
	// failures.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// RetryBudget is how long a transient failure keeps being retried before
	// the operation is flagged for manual review.
	RetryBudget time.Duration
}

// DeviceConfig holds in-truck agent configuration.
type DeviceConfig struct {
	DriverID      string
	StorePath     string
	ServerBaseURL string

	// EvidenceUploadURL is the evidence storage endpoint. Empty disables
	// uploads; queued evidence then carries its local reference as-is.
	EvidenceUploadURL string

	HTTPTimeout time.Duration
	GPSTimeout  time.Duration
}

// Load loads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "despacho"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "despacho-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Sync: SyncConfig{
			Epsilon:       getDecimalEnv("SYNC_EPSILON", decimal.Zero),
			FlushInterval: getDurationEnv("SYNC_FLUSH_INTERVAL", 30*time.Second),
			BackoffBase:   getDurationEnv("SYNC_BACKOFF_BASE", 2*time.Second),
			BackoffCap:    getDurationEnv("SYNC_BACKOFF_CAP", 60*time.Second),
			RetryBudget:   getDurationEnv("SYNC_RETRY_BUDGET", 24*time.Hour),
		},
		Device: DeviceConfig{
			DriverID:          getEnv("DEVICE_DRIVER_ID", ""),
			StorePath:         getEnv("DEVICE_STORE_PATH", "despacho-device.db"),
			ServerBaseURL:     getEnv("DEVICE_SERVER_URL", "http://localhost:8080"),
			EvidenceUploadURL: getEnv("DEVICE_EVIDENCE_UPLOAD_URL", ""),
			HTTPTimeout:       getDurationEnv("DEVICE_HTTP_TIMEOUT", 15*time.Second),
			GPSTimeout:        getDurationEnv("DEVICE_GPS_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
