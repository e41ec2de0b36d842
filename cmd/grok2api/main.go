// Grok2api is an OpenAI-compatible gateway for grok.com's private web
// API.
//
// It exposes /v1/chat/completions, /v1/images/generations,
// /v1/images/edits, and /v1/models, translating each request into
// provider web calls over a managed pool of session credentials.
//
// Usage:
//
//	# Start the gateway with the default configuration
//	grok2api run
//
//	# Start with a custom configuration file
//	grok2api run --config /etc/grok2api/config.yaml
//
//	# Show version information
//	grok2api version
package main

func main() {
	Execute()
}
