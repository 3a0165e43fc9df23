package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a libpq/pgx connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxOpen     int           // postgres only; 0 means 4
}

// Record is one result row keyed by column name. NULL columns are omitted.
type Record map[string]string

// Store is the record store boundary used by the ledger and the audit log.
type Store interface {
	// Exec runs a write and reports rows affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// Query runs a read and returns every row.
	Query(ctx context.Context, query string, args ...any) ([]Record, error)
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)
