// Package grok is the upstream client for the provider's private web
// API: the conversational endpoint that answers with NDJSON, the file
// upload endpoint, the post resource used as image-edit and video
// context, and the rate-limit probe that backs credential revalidation.
//
// The wire schema here mirrors what the provider's own web client
// sends; it is not a published API and can drift.
package grok
