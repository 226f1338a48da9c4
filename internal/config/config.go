// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mbd888/threatscore/internal/activity"
	"github.com/mbd888/threatscore/internal/threat"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// CORSOrigins lists origins allowed to call the API ("*" for any)
	CORSOrigins []string

	// Activity store
	ActivityStore string // memory, postgres, sqlite, redis
	DatabaseURL   string
	SQLitePath    string
	RedisURL      string

	// Alert publishing (disabled when no brokers are set)
	KafkaBrokers    []string
	KafkaAlertTopic string

	// Tracing (disabled when empty)
	OTLPEndpoint string

	// Scan defaults
	DetectionMode    string
	LateHour         int
	EarlyHour        int
	FilesAccessed    int
	EmailsSent       int
	USBDevices       int
	Contamination    float64
	ScanRateLimitRPM int
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultSQLitePath    = "insider_threat.db"
	DefaultScanRateLimit = 30
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	th := threat.DefaultThresholds()
	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		ActivityStore:    getEnv("ACTIVITY_STORE", activity.BackendMemory),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", DefaultSQLitePath),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertTopic:  getEnv("KAFKA_ALERT_TOPIC", "threat-alerts"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DetectionMode:    getEnv("DETECTION_MODE", string(threat.ModeRules)),
		LateHour:         int(getEnvInt64("RULE_LATE_HOUR", int64(th.LateHour))),
		EarlyHour:        int(getEnvInt64("RULE_EARLY_HOUR", int64(th.EarlyHour))),
		FilesAccessed:    int(getEnvInt64("RULE_FILES_ACCESSED", int64(th.FilesAccessed))),
		EmailsSent:       int(getEnvInt64("RULE_EMAILS_SENT", int64(th.EmailsSent))),
		USBDevices:       int(getEnvInt64("RULE_USB_DEVICES", int64(th.USBDevices))),
		Contamination:    getEnvFloat("CONTAMINATION", threat.DefaultContamination),
		ScanRateLimitRPM: int(getEnvInt64("SCAN_RATE_LIMIT_RPM", DefaultScanRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.ActivityStore {
	case activity.BackendMemory:
	case activity.BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when ACTIVITY_STORE=postgres")
		}
	case activity.BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when ACTIVITY_STORE=sqlite")
		}
	case activity.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when ACTIVITY_STORE=redis")
		}
	default:
		return fmt.Errorf("ACTIVITY_STORE must be one of memory, postgres, sqlite, redis (got %q)", c.ActivityStore)
	}

	if _, err := threat.ParseMode(c.DetectionMode); err != nil {
		return fmt.Errorf("DETECTION_MODE: %w", err)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("rule thresholds: %w", err)
	}
	if err := threat.ValidateContamination(c.Contamination); err != nil {
		return fmt.Errorf("CONTAMINATION: %w", err)
	}
	if c.ScanRateLimitRPM <= 0 {
		return fmt.Errorf("SCAN_RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// Thresholds returns the configured rule thresholds.
func (c *Config) Thresholds() threat.Thresholds {
	return threat.Thresholds{
		LateHour:      c.LateHour,
		EarlyHour:     c.EarlyHour,
		FilesAccessed: c.FilesAccessed,
		EmailsSent:    c.EmailsSent,
		USBDevices:    c.USBDevices,
	}
}

// ScanDefaults is the request used when a scan omits parameters.
func (c *Config) ScanDefaults() threat.Request {
	return threat.Request{
		Mode:          threat.Mode(c.DetectionMode),
		Thresholds:    c.Thresholds(),
		Contamination: c.Contamination,
	}
}

// ActivityStoreOptions selects and locates the activity store backend.
func (c *Config) ActivityStoreOptions() activity.Options {
	return activity.Options{
		Backend:     c.ActivityStore,
		DatabaseURL: c.DatabaseURL,
		SQLitePath:  c.SQLitePath,
		RedisURL:    c.RedisURL,
	}
}

// PublishesAlerts reports whether Kafka publishing is configured.
func (c *Config) PublishesAlerts() bool {
	return len(c.KafkaBrokers) > 0
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
