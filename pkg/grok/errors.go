package grok

import "fmt"

// maxErrorBodyBytes caps how much of an upstream error body is kept.
const maxErrorBodyBytes = 1024

// UpstreamError is a non-2xx reply from the provider. Body holds at
// most the first kilobyte of the response.
type UpstreamError struct {
	// StatusCode is the upstream HTTP status.
	StatusCode int

	// Body is the truncated upstream response body.
	Body string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}
