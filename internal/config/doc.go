// Package config loads, normalizes, and validates ifgsweep configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, applies a working-directory .env file, and
// honours environment fallbacks such as GRQ_ES_URL and MOZART_ES_URL. The two
// index clusters are configured with independent base URLs; nothing is derived
// from one URL to reach the other.
//
// Always obtain settings through this package so downstream code receives
// sanitized URLs, canonical policies, and clear validation errors.
package config
