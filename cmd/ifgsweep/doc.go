// Package main hosts the ifgsweep CLI.
//
// The Cobra command tree loads configuration once per invocation, builds the
// logger, and hands off to internal/sweep for runs and internal/ledger for
// history. Subcommands that need no configuration (key, config init) opt out
// with the skipConfigLoad annotation.
package main
