package config

import "time"

// Config is the root configuration for the grok2api gateway.
type Config struct {
	// Server contains HTTP server settings: listen address, timeouts,
	// connection limits and CORS.
	Server ServerConfig `yaml:"server"`

	// Auth contains the inbound API key and the admin key.
	Auth AuthConfig `yaml:"auth"`

	// Grok contains settings for the upstream provider client.
	Grok GrokConfig `yaml:"grok"`

	// Retry controls the per-request attempt loop.
	Retry RetryConfig `yaml:"retry"`

	// Tokens controls credential cooldowns and bulk revalidation.
	Tokens TokenConfig `yaml:"tokens"`

	// ImageWS controls the realtime image-generation websocket adapter.
	ImageWS ImageWSConfig `yaml:"image_ws"`

	// Storage contains SQLite settings shared by the credential store
	// and the request log.
	Storage StorageConfig `yaml:"storage"`

	// Catalog points at the model catalog file.
	Catalog CatalogConfig `yaml:"catalog"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8180"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response
	// writes. Streaming responses are exempted via per-request deadline
	// resets, so this bounds only the non-streaming paths.
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// CORS contains Cross-Origin Resource Sharing settings.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS settings for the externally-facing API.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins lists allowed origins. ["*"] allows all.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods lists allowed HTTP methods for preflight responses.
	// Default: ["GET", "POST", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders lists allowed request headers.
	// Default: ["Authorization", "Content-Type", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the preflight cache age in seconds.
	// Default: 3600
	MaxAge int `yaml:"max_age"`
}

// AuthConfig contains inbound authentication settings.
type AuthConfig struct {
	// APIKey is the bearer key clients must present on /v1 routes.
	// Empty means open access (development mode).
	APIKey string `yaml:"api_key"`

	// AdminKey is the bearer key for /admin routes. Empty disables
	// the admin API entirely.
	AdminKey string `yaml:"admin_key"`
}

// GrokConfig contains settings for the upstream provider client.
type GrokConfig struct {
	// BaseURL is the provider web origin.
	// Default: "https://grok.com"
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-call HTTP timeout for non-streaming calls.
	// Streaming responses are read without a client timeout; the
	// orchestrator's retry budget bounds them instead.
	// Default: 120s
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent is sent on every upstream call.
	UserAgent string `yaml:"user_agent"`

	// UploadConcurrency bounds parallel attachment uploads per request.
	// Default: 5
	UploadConcurrency int `yaml:"upload_concurrency"`

	// FilteredTags lists content-block tags dropped from streamed
	// responses (e.g. internal reasoning blocks).
	FilteredTags []string `yaml:"filtered_tags"`

	// EditModelID is the provider model id used for image edits.
	// Default: "imagine-anime"
	EditModelID string `yaml:"edit_model_id"`

	// ProbeModel is the provider model named in rate-limit probes.
	// Default: "grok-4"
	ProbeModel string `yaml:"probe_model"`
}

// RetryConfig controls the orchestrator's attempt loop.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 2
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the delay before the first retry.
	// Default: 1s
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffFactor multiplies the delay after each retry.
	// Default: 2.0
	BackoffFactor float64 `yaml:"backoff_factor"`

	// BackoffCeiling caps the computed delay.
	// Default: 30s
	BackoffCeiling time.Duration `yaml:"backoff_ceiling"`

	// RetryableStatusCodes lists upstream HTTP statuses worth retrying.
	// Default: [401, 403, 429]
	RetryableStatusCodes []int `yaml:"retryable_status_codes"`

	// RetryOnNetworkError enables retries for transport-level failures.
	// A pointer so an absent field is distinguishable from an explicit
	// false.
	// Default: true
	RetryOnNetworkError *bool `yaml:"retry_on_network_error"`

	// RetryBudget is the soft wall-clock deadline for the whole attempt
	// loop. Zero disables the budget.
	// Default: 0
	RetryBudget time.Duration `yaml:"retry_budget"`
}

// NetworkRetryEnabled reports whether transport-level failures are
// retried. An unset field means true.
func (r RetryConfig) NetworkRetryEnabled() bool {
	return r.RetryOnNetworkError == nil || *r.RetryOnNetworkError
}

// TokenConfig controls credential cooldowns and revalidation.
type TokenConfig struct {
	// Cooldowns maps failure classes to cooldown durations applied to
	// a credential after that class of failure.
	Cooldowns CooldownConfig `yaml:"cooldowns"`

	// RefreshSchedule is a cron expression for periodic bulk
	// revalidation. Empty disables the scheduler.
	// Default: "0 */6 * * *"
	RefreshSchedule string `yaml:"refresh_schedule"`

	// RefreshConcurrency bounds the revalidation worker pool.
	// Default: 10
	RefreshConcurrency int `yaml:"refresh_concurrency"`

	// RefreshStaleness is how old a running refresh record may be
	// before a new job may force-clear it.
	// Default: 120s
	RefreshStaleness time.Duration `yaml:"refresh_staleness"`
}

// CooldownConfig maps upstream failure classes to cooldown durations.
type CooldownConfig struct {
	// Auth is applied after 401/403 responses.
	// Default: 30m
	Auth time.Duration `yaml:"auth"`

	// RateLimit is applied after 429 responses.
	// Default: 5m
	RateLimit time.Duration `yaml:"rate_limit"`

	// Server is applied after 5xx responses.
	// Default: 1m
	Server time.Duration `yaml:"server"`

	// Network is applied after transport-level failures.
	// Default: 1m
	Network time.Duration `yaml:"network"`
}

// ImageWSConfig controls the realtime image websocket adapter.
type ImageWSConfig struct {
	// Enabled selects the websocket pipeline for image generation.
	// When false, images are produced through the chat NDJSON pipeline.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the websocket URL of the realtime image pipeline.
	Endpoint string `yaml:"endpoint"`

	// HardTimeout bounds one websocket session.
	// Default: 120s
	HardTimeout time.Duration `yaml:"hard_timeout"`

	// BlockedThreshold is how long to wait for a final frame after the
	// first medium frame before declaring the generation blocked.
	// Default: 10s
	BlockedThreshold time.Duration `yaml:"blocked_threshold"`

	// FinalMinBytes is the minimum payload size for a frame to count
	// as final.
	// Default: 51200
	FinalMinBytes int `yaml:"final_min_bytes"`

	// MediumMinBytes is the minimum payload size for a frame to count
	// as medium stage.
	// Default: 10240
	MediumMinBytes int `yaml:"medium_min_bytes"`

	// BatchSize is how many images one session is asked for when
	// aggregating across sessions.
	// Default: 4
	BatchSize int `yaml:"batch_size"`

	// AllowNSFW forwards the provider's NSFW flag on generation
	// requests.
	// Default: false
	AllowNSFW bool `yaml:"allow_nsfw"`
}

// StorageConfig contains SQLite settings.
type StorageConfig struct {
	// Path is the database file path.
	// Default: "data/grok2api.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// BusyTimeout is how long to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`
}

// CatalogConfig points at the model catalog data file.
type CatalogConfig struct {
	// Path is the catalog YAML/JSON file.
	// Default: "models.yaml"
	Path string `yaml:"path"`

	// Watch reloads the catalog when the file changes.
	// Default: false
	Watch bool `yaml:"watch"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging contains structured logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: json, text.
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled exposes /metrics.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	// Default: "grok2api"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets are the histogram buckets for request
	// duration in seconds.
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}
