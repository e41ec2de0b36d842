package config

import "time"

// ApplyDefaults fills in default values for any unset configuration fields.
// It is called after YAML parsing and before validation, so a partial
// configuration file is always usable.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8180"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20
	}

	// CORS defaults
	if cfg.Server.CORS.AllowedOrigins == nil {
		cfg.Server.CORS.Enabled = true
		cfg.Server.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.CORS.AllowedMethods == nil {
		cfg.Server.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if cfg.Server.CORS.AllowedHeaders == nil {
		cfg.Server.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	if cfg.Server.CORS.MaxAge == 0 {
		cfg.Server.CORS.MaxAge = 3600
	}

	// Upstream defaults
	if cfg.Grok.BaseURL == "" {
		cfg.Grok.BaseURL = "https://grok.com"
	}
	if cfg.Grok.Timeout == 0 {
		cfg.Grok.Timeout = 120 * time.Second
	}
	if cfg.Grok.UserAgent == "" {
		cfg.Grok.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
	}
	if cfg.Grok.UploadConcurrency == 0 {
		cfg.Grok.UploadConcurrency = 5
	}
	if cfg.Grok.FilteredTags == nil {
		cfg.Grok.FilteredTags = []string{"xaiartifact", "xai:tool_usage_card", "grok:render", "details", "summary"}
	}
	if cfg.Grok.EditModelID == "" {
		cfg.Grok.EditModelID = "imagine-anime"
	}
	if cfg.Grok.ProbeModel == "" {
		cfg.Grok.ProbeModel = "grok-4"
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Retry.BackoffBase == 0 {
		cfg.Retry.BackoffBase = time.Second
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
	}
	if cfg.Retry.BackoffCeiling == 0 {
		cfg.Retry.BackoffCeiling = 30 * time.Second
	}
	if cfg.Retry.RetryableStatusCodes == nil {
		cfg.Retry.RetryableStatusCodes = []int{401, 403, 429}
	}
	if cfg.Retry.RetryOnNetworkError == nil {
		t := true
		cfg.Retry.RetryOnNetworkError = &t
	}

	// Token pool defaults
	if cfg.Tokens.Cooldowns.Auth == 0 {
		cfg.Tokens.Cooldowns.Auth = 30 * time.Minute
	}
	if cfg.Tokens.Cooldowns.RateLimit == 0 {
		cfg.Tokens.Cooldowns.RateLimit = 5 * time.Minute
	}
	if cfg.Tokens.Cooldowns.Server == 0 {
		cfg.Tokens.Cooldowns.Server = time.Minute
	}
	if cfg.Tokens.Cooldowns.Network == 0 {
		cfg.Tokens.Cooldowns.Network = time.Minute
	}
	if cfg.Tokens.RefreshSchedule == "" {
		cfg.Tokens.RefreshSchedule = "0 */6 * * *"
	}
	if cfg.Tokens.RefreshConcurrency == 0 {
		cfg.Tokens.RefreshConcurrency = 10
	}
	if cfg.Tokens.RefreshStaleness == 0 {
		cfg.Tokens.RefreshStaleness = 120 * time.Second
	}

	// Image websocket defaults
	if cfg.ImageWS.Endpoint == "" {
		cfg.ImageWS.Endpoint = "wss://grok.com/ws/imagine"
	}
	if cfg.ImageWS.HardTimeout == 0 {
		cfg.ImageWS.HardTimeout = 120 * time.Second
	}
	if cfg.ImageWS.BlockedThreshold == 0 {
		cfg.ImageWS.BlockedThreshold = 10 * time.Second
	}
	if cfg.ImageWS.FinalMinBytes == 0 {
		cfg.ImageWS.FinalMinBytes = 50 * 1024
	}
	if cfg.ImageWS.MediumMinBytes == 0 {
		cfg.ImageWS.MediumMinBytes = 10 * 1024
	}
	if cfg.ImageWS.BatchSize == 0 {
		cfg.ImageWS.BatchSize = 4
	}

	// Storage defaults
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/grok2api.db"
		cfg.Storage.WALMode = true
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = 5
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = 5 * time.Second
	}

	// Catalog defaults
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "models.yaml"
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.Namespace = "grok2api"
	}
	if cfg.Telemetry.Metrics.RequestDurationBuckets == nil {
		cfg.Telemetry.Metrics.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}
}
