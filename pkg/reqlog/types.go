package reqlog

import "time"

// Record is one completed request outcome.
type Record struct {
	// ID is the request ID assigned by the middleware chain.
	ID string `json:"id"`

	// Time is when the request finished.
	Time time.Time `json:"time"`

	// RemoteAddr is the caller's address.
	RemoteAddr string `json:"remote_addr"`

	// Method and Path identify the endpoint.
	Method string `json:"method"`
	Path   string `json:"path"`

	// Model is the public model ID the caller asked for, empty for
	// non-inference endpoints.
	Model string `json:"model,omitempty"`

	// StatusCode is the HTTP status returned to the caller.
	StatusCode int `json:"status_code"`

	// Attempts is how many upstream attempts the request consumed.
	Attempts int `json:"attempts,omitempty"`

	// CredentialSuffix identifies the serving credential by its last
	// characters. Never the full secret.
	CredentialSuffix string `json:"credential_suffix,omitempty"`

	// Duration is wall time from receipt to final byte.
	Duration time.Duration `json:"duration"`

	// Error is the terminal error message, empty on success.
	Error string `json:"error,omitempty"`
}

// Query filters a listing of records.
type Query struct {
	// Limit caps the number of returned records. Default: 100.
	Limit int

	// Model filters by public model ID when non-empty.
	Model string

	// Since excludes records older than the given instant when set.
	Since time.Time
}
