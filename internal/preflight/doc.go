// Package preflight provides readiness checks for the paths and index
// clusters a sweep depends on.
//
// The CLI "ifgsweep check" command runs RunAll and prints one line per
// check. Checks never modify index data; the ledger check only opens the
// database, which creates it and applies migrations when absent.
package preflight
