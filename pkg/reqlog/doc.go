// Package reqlog records per-request outcome entries for the admin
// surface: caller address, model, resolved status, latency, and which
// credential served the request. Writes are asynchronous so the request
// path never blocks on the log store.
package reqlog
