// Package storage is the generic record store behind the task ledger and the
// audit log.
//
// Callers address it through Exec (writes) and Query (reads returning rows as
// string maps). Queries use "?" placeholders; drivers that need numbered
// placeholders rebind them.
//
// Supported drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, default)
//   - "postgres": PostgreSQL via pgx's database/sql driver
package storage
