// Package middleware provides the HTTP middleware chain for the
// gateway: panic recovery, request IDs, structured request logging
// with request-log persistence, CORS, and bearer-key authentication.
package middleware
