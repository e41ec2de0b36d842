// Package handlers implements the gateway's HTTP endpoints: chat
// completions, image generation and edits, model listing, health
// probes, and the admin API for credential and request-log management.
package handlers
