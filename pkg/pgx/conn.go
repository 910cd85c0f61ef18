package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the subset of *pgxpool.Pool, *pgx.Conn and pgx.Tx the facade
// needs. Handlers depend on it rather than on a concrete pool so they can
// run against a transaction or a mock.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Begin starts a transaction. The context only affects the begin
	// command; there is no auto-rollback on cancellation.
	Begin(ctx context.Context) (pgx.Tx, error)
}
