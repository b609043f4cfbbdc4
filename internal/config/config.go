// Package config provides configuration management for the Apex Timing engine.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Ingestion IngestionConfig `mapstructure:"ingestion" validate:"required"`
	Cache     CacheConfig     `mapstructure:"cache" validate:"required"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Health    HealthConfig    `mapstructure:"health"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
	AuditLog    string `mapstructure:"audit_log"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host" validate:"required"`
	Port           int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Name           string `mapstructure:"name" validate:"required"`
	User           string `mapstructure:"user" validate:"required"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections" validate:"min=1"`
}

// ServerConfig holds the public API server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IngestionConfig tunes the reading-ingestion pipeline.
type IngestionConfig struct {
	// ToleranceWindow coalesces near-duplicate sensor events with the same
	// composite identity.
	ToleranceWindow time.Duration `mapstructure:"tolerance_window" validate:"required"`
	// PersistTimeout bounds every reading write; on expiry the submission is
	// rejected as retryable instead of hanging the collector.
	PersistTimeout time.Duration `mapstructure:"persist_timeout" validate:"required"`
	// DeviceRateLimit / DeviceBurst throttle a flooding collector, in
	// readings per second per device.
	DeviceRateLimit float64 `mapstructure:"device_rate_limit" validate:"gt=0"`
	DeviceBurst     int     `mapstructure:"device_burst" validate:"gt=0"`
}

// CacheConfig tunes the classification result cache.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl" validate:"required"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// NotifyConfig configures the downstream notification sink.
type NotifyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// SchedulerConfig configures the background refresh jobs.
type SchedulerConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	LiveRefreshSeconds int  `mapstructure:"live_refresh_seconds"`
}

// MetricsConfig configures Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig configures AWS X-Ray distributed tracing.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	DaemonAddr   string  `mapstructure:"daemon_addr"`
}

// HealthConfig configures the health check server.
type HealthConfig struct {
	Port string `mapstructure:"port"`
}

// GetDatabaseDSN builds the database connection string.
func (c *Config) GetDatabaseDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		sslMode,
	)
}
