package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns an error describing every problem found, one per line.
func Validate(cfg *Config) error {
	var problems []string

	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddress); err != nil {
		problems = append(problems, fmt.Sprintf("server.listen_address %q is not host:port", cfg.Server.ListenAddress))
	}
	if cfg.Server.ReadTimeout < 0 {
		problems = append(problems, "server.read_timeout must not be negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		problems = append(problems, "server.write_timeout must not be negative")
	}

	if !strings.HasPrefix(cfg.Grok.BaseURL, "http://") && !strings.HasPrefix(cfg.Grok.BaseURL, "https://") {
		problems = append(problems, fmt.Sprintf("grok.base_url %q must start with http:// or https://", cfg.Grok.BaseURL))
	}
	if cfg.Grok.UploadConcurrency < 1 {
		problems = append(problems, "grok.upload_concurrency must be at least 1")
	}

	if cfg.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if cfg.Retry.BackoffFactor < 1 {
		problems = append(problems, "retry.backoff_factor must be at least 1")
	}
	if cfg.Retry.BackoffBase < 0 {
		problems = append(problems, "retry.backoff_base must not be negative")
	}
	if cfg.Retry.BackoffCeiling < cfg.Retry.BackoffBase {
		problems = append(problems, "retry.backoff_ceiling must not be below retry.backoff_base")
	}
	if cfg.Retry.RetryBudget < 0 {
		problems = append(problems, "retry.retry_budget must not be negative")
	}
	for _, code := range cfg.Retry.RetryableStatusCodes {
		if code < 100 || code > 599 {
			problems = append(problems, fmt.Sprintf("retry.retryable_status_codes contains invalid status %d", code))
		}
	}

	if cfg.Tokens.RefreshConcurrency < 1 {
		problems = append(problems, "tokens.refresh_concurrency must be at least 1")
	}

	if cfg.ImageWS.Enabled {
		if !strings.HasPrefix(cfg.ImageWS.Endpoint, "ws://") && !strings.HasPrefix(cfg.ImageWS.Endpoint, "wss://") {
			problems = append(problems, fmt.Sprintf("image_ws.endpoint %q must start with ws:// or wss://", cfg.ImageWS.Endpoint))
		}
	}
	if cfg.ImageWS.MediumMinBytes > cfg.ImageWS.FinalMinBytes {
		problems = append(problems, "image_ws.medium_min_bytes must not exceed image_ws.final_min_bytes")
	}
	if cfg.ImageWS.BatchSize < 1 {
		problems = append(problems, "image_ws.batch_size must be at least 1")
	}

	if cfg.Storage.Path == "" {
		problems = append(problems, "storage.path must not be empty")
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.logging.level %q must be one of debug, info, warn, error", cfg.Telemetry.Logging.Level))
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.logging.format %q must be json or text", cfg.Telemetry.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
