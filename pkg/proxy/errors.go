package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanranv5/grok2api/pkg/bridge"
	"github.com/tanranv5/grok2api/pkg/grok"
	"github.com/tanranv5/grok2api/pkg/imagews"
	"github.com/tanranv5/grok2api/pkg/proxy/types"
	"github.com/tanranv5/grok2api/pkg/token"
)

// RequestError is a validation error produced while parsing a client
// request. It carries the parameter and code for the OpenAI envelope.
type RequestError struct {
	// Message is the human-readable description.
	Message string

	// Param is the offending parameter name, if known.
	Param string

	// Code is the machine-readable error code.
	Code string

	// Type overrides the error type. Default: invalid_request_error.
	Type string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// ToErrorResponse converts the validation error to an OpenAI envelope.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	errType := e.Type
	if errType == "" {
		errType = types.ErrorTypeInvalidRequest
	}
	resp := types.NewError(errType, e.Message, e.Code)
	resp.Error.Param = e.Param
	return resp
}

// NewValidationError creates a RequestError for an invalid parameter.
func NewValidationError(message, param, code string) *RequestError {
	return &RequestError{Message: message, Param: param, Code: code}
}

// NewModelNotFoundError creates a RequestError for an unknown model ID.
func NewModelNotFoundError(model string) *RequestError {
	return &RequestError{
		Message: fmt.Sprintf("model not found: %s", model),
		Param:   "model",
		Code:    types.CodeModelNotFound,
		Type:    types.ErrorTypeNotFound,
	}
}

// HandleError converts internal errors to OpenAI-compatible error
// responses. The mapping:
//
//   - RequestError: 400 (or the error's own type)
//   - token.ErrNoCredential: 503, no eligible credential
//   - grok.UpstreamError: 500, upstream returned an HTTP failure
//   - bridge.ProtocolError: 502, upstream reply could not be parsed
//   - imagews.SessionError: 502, image session failed
//   - anything else: 500
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	if errors.Is(err, token.ErrNoCredential) {
		return types.NewError(
			types.ErrorTypeServiceUnavailable,
			"no eligible credential available, try again later",
			types.CodeNoCredential,
		)
	}

	var upstreamErr *grok.UpstreamError
	if errors.As(err, &upstreamErr) {
		return types.NewError(
			types.ErrorTypeServerError,
			fmt.Sprintf("upstream request failed: %v", upstreamErr),
			types.CodeUpstreamError,
		)
	}

	var protoErr *bridge.ProtocolError
	if errors.As(err, &protoErr) {
		return types.NewError(
			types.ErrorTypeBadGateway,
			protoErr.Error(),
			types.CodeUpstreamProtocol,
		)
	}

	var sessionErr *imagews.SessionError
	if errors.As(err, &sessionErr) {
		return types.NewError(
			types.ErrorTypeBadGateway,
			sessionErr.Error(),
			types.CodeUpstreamError,
		)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(
			types.ErrorTypeServerError,
			"request cancelled or timed out",
			"",
		)
	}

	return types.NewError(
		types.ErrorTypeServerError,
		"an internal error occurred, please try again later",
		"",
	)
}
