// Package config loads and validates gateway configuration.
//
// Configuration comes from a single YAML file with three layers applied in
// order: file values, defaults for anything unset, then GROK2API_* environment
// variable overrides. The loaded Config is treated as immutable for the
// lifetime of the process; the only runtime-reloadable data is the model
// catalog, which lives in its own file (see package catalog).
package config
