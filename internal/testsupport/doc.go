// Package testsupport holds test helpers shared across packages: a config
// builder seeded with temp directories, a fake search index server, and
// ledger and run-context fixtures.
package testsupport
