// Package proxy provides the OpenAI-compatible HTTP surface of the
// gateway: request parsing and validation, error mapping, and response
// writing for both buffered JSON and Server-Sent Events.
//
// # Architecture
//
// The package is organized into:
//
//   - Handlers: endpoint logic (chat completions, image generation and
//     edits, model listing, health, admin)
//   - Middleware: cross-cutting concerns (recovery, request ID,
//     logging, CORS, authentication)
//   - Types: OpenAI-compatible request/response data structures
//
// # Error Handling
//
// All errors follow the OpenAI error response format:
//
//	{
//	  "error": {
//	    "message": "model not found: grok-9",
//	    "type": "not_found",
//	    "code": "model_not_found"
//	  }
//	}
//
// HandleError maps internal error types (credential exhaustion,
// upstream HTTP failures, protocol errors) to the right envelope and
// status code.
package proxy
