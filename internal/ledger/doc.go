// Package ledger records sweep runs and blacklist candidates in a local
// SQLite database (modernc.org/sqlite, WAL mode). Store implements the sweep
// Emitter and Recorder interfaces. Candidates are keyed by scene key, so
// emitting the same candidates again updates rows instead of adding new ones.
package ledger
