// Package config provides configuration management for the Apex Timing engine.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads and parses the configuration from file and environment variables.
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
// and falls back to defaults for optional fields when the file is absent.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		configPath = "config/config.yaml"
	}

	v.SetConfigType("yaml")

	// Environment overrides: APEX_TIMING_DATABASE_HOST etc.
	v.SetEnvPrefix("APEX_TIMING")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// If the file doesn't exist, continue with defaults and environment.

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults installs reasonable defaults for optional settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "apex-timing")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// A tolerance window near one second coalesces RF bounce without
	// swallowing genuinely distinct passages.
	v.SetDefault("ingestion.tolerance_window", time.Second)
	v.SetDefault("ingestion.persist_timeout", 3*time.Second)
	v.SetDefault("ingestion.device_rate_limit", 50.0)
	v.SetDefault("ingestion.device_burst", 100)

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Hour)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.max_retries", 3)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.live_refresh_seconds", 30)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "apex-timing")
	v.SetDefault("tracing.sampling_rate", 0.05)
	v.SetDefault("tracing.daemon_addr", "127.0.0.1:2000")

	v.SetDefault("health.port", "8080")
}
