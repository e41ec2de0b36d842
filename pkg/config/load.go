package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the result, and returns any errors.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Variables follow the naming convention
// GROK2API_SECTION_FIELD (e.g. GROK2API_SERVER_LISTEN_ADDRESS) and always
// take precedence over file-based configuration.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies GROK2API_* environment variables to the
// configuration. Only operationally interesting fields are overridable;
// structured fields (cooldown tables, filtered tags) stay file-only.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				*dst = i
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		}
	}
	setBoolPtr := func(key string, dst **bool) {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = &b
			}
		}
	}

	setString("GROK2API_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setDuration("GROK2API_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("GROK2API_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	setString("GROK2API_AUTH_API_KEY", &cfg.Auth.APIKey)
	setString("GROK2API_AUTH_ADMIN_KEY", &cfg.Auth.AdminKey)

	setString("GROK2API_GROK_BASE_URL", &cfg.Grok.BaseURL)
	setDuration("GROK2API_GROK_TIMEOUT", &cfg.Grok.Timeout)
	setInt("GROK2API_GROK_UPLOAD_CONCURRENCY", &cfg.Grok.UploadConcurrency)

	setInt("GROK2API_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	setDuration("GROK2API_RETRY_BACKOFF_BASE", &cfg.Retry.BackoffBase)
	setDuration("GROK2API_RETRY_BACKOFF_CEILING", &cfg.Retry.BackoffCeiling)
	setBoolPtr("GROK2API_RETRY_ON_NETWORK_ERROR", &cfg.Retry.RetryOnNetworkError)
	setDuration("GROK2API_RETRY_BUDGET", &cfg.Retry.RetryBudget)

	setString("GROK2API_TOKENS_REFRESH_SCHEDULE", &cfg.Tokens.RefreshSchedule)
	setInt("GROK2API_TOKENS_REFRESH_CONCURRENCY", &cfg.Tokens.RefreshConcurrency)

	setBool("GROK2API_IMAGE_WS_ENABLED", &cfg.ImageWS.Enabled)
	setString("GROK2API_IMAGE_WS_ENDPOINT", &cfg.ImageWS.Endpoint)
	setDuration("GROK2API_IMAGE_WS_HARD_TIMEOUT", &cfg.ImageWS.HardTimeout)

	setString("GROK2API_STORAGE_PATH", &cfg.Storage.Path)
	setString("GROK2API_CATALOG_PATH", &cfg.Catalog.Path)

	setString("GROK2API_LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("GROK2API_LOG_FORMAT", &cfg.Telemetry.Logging.Format)
}
