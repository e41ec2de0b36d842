package middleware

import (
	"context"
	"sync"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey stores the unique request ID.
	RequestIDKey contextKey = "request_id"

	// StartTimeKey stores the request start time.
	StartTimeKey contextKey = "start_time"

	// RequestMetaKey stores the mutable per-request metadata record.
	RequestMetaKey contextKey = "request_meta"
)

// RequestMeta is filled in by handlers as a request progresses so the
// logging middleware can persist model, credential, and attempt data
// it cannot know up front.
type RequestMeta struct {
	mu               sync.Mutex
	model            string
	credentialSuffix string
	attempts         int
	errText          string
}

// SetModel records the public model ID the request resolved to.
func (m *RequestMeta) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// SetOutcome records the attempt-loop outcome.
func (m *RequestMeta) SetOutcome(credentialSuffix string, attempts int, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentialSuffix = credentialSuffix
	m.attempts = attempts
	m.errText = errText
}

// Snapshot returns the recorded fields.
func (m *RequestMeta) Snapshot() (model, credentialSuffix string, attempts int, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model, m.credentialSuffix, m.attempts, m.errText
}

// GetRequestMeta extracts the metadata record from the context, or nil
// when the logging middleware is not installed.
func GetRequestMeta(ctx context.Context) *RequestMeta {
	meta, _ := ctx.Value(RequestMetaKey).(*RequestMeta)
	return meta
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetStartTime extracts the request start time from the context.
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}
