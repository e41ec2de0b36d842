package types

import "net/http"

// ErrorResponse represents an OpenAI-compatible error response. All
// error conditions use this envelope.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Param is the name of the offending parameter, if applicable.
	Param string `json:"param,omitempty"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Error type constants matching the OpenAI API specification.
const (
	// ErrorTypeInvalidRequest indicates a client-side error (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeAuthentication indicates an authentication failure (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypeNotFound indicates a resource was not found (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeRateLimitExceeded indicates too many requests (429).
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeServerError indicates an internal or upstream error (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeBadGateway indicates an upstream protocol failure (502).
	ErrorTypeBadGateway = "bad_gateway"

	// ErrorTypeServiceUnavailable indicates no credential is available (503).
	ErrorTypeServiceUnavailable = "service_unavailable"
)

// Error code constants for common scenarios.
const (
	// CodeInvalidJSON indicates the request body is not valid JSON.
	CodeInvalidJSON = "invalid_json"

	// CodeMissingField indicates a required field is missing.
	CodeMissingField = "missing_field"

	// CodeModelNotFound indicates the requested model is not in the catalog.
	CodeModelNotFound = "model_not_found"

	// CodeNoCredential indicates the credential pool had no eligible entry.
	CodeNoCredential = "no_credential_available"

	// CodeUpstreamError indicates a provider-side failure.
	CodeUpstreamError = "upstream_error"

	// CodeUpstreamProtocol indicates the provider's reply could not be parsed.
	CodeUpstreamProtocol = "upstream_protocol_error"
)

// HTTPStatusCode maps an error type to its conventional HTTP status.
func HTTPStatusCode(errorType string) int {
	switch errorType {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeBadGateway:
		return http.StatusBadGateway
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds an error envelope.
func NewError(errorType, message, code string) *ErrorResponse {
	return &ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    errorType,
		Code:    code,
	}}
}
