// Package bridge translates the provider's NDJSON response stream into
// the OpenAI wire formats: an SSE chat-completion stream or a single
// assembled completion object. The upstream body is consumed exactly
// once; the two modes are mutually exclusive per request.
package bridge
