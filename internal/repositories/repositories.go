package repositories

import (
	"context"
	"database/sql"
)

// DBTX is the subset of [sql.DB] and [sql.Tx] the repositories use.
// Binding repositories to this interface lets a handler run the same data
// access standalone or inside a scoped transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
