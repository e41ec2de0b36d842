// Package server assembles the gateway and manages its lifecycle.
//
// It wires the credential pool, the upstream client, the model catalog,
// the request-log recorder, and the HTTP surface together, then runs
// the HTTP server with graceful shutdown on SIGINT/SIGTERM. Background
// components (the revalidation scheduler and the catalog watcher) run
// for the server's lifetime and stop during shutdown.
package server
