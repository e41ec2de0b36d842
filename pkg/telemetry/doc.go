// Package telemetry groups the gateway's observability concerns:
// structured logging setup and Prometheus metrics.
package telemetry
