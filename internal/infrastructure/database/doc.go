// Package database provides the SQLite connection backing the diagnostics
// journal.
//
// It wraps database/sql with:
//   - Connection string construction (busy timeout, foreign keys, WAL)
//   - A single-writer connection pool suited to SQLite
//   - Health checking
//
// The journal schema itself is owned by the journal package; this package
// only hands out a configured connection.
package database
