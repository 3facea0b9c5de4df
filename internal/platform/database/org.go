package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier abstracts pgx query methods so callers can work with both
// pool connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithOrgConnection acquires a dedicated connection from the pool, sets the
// Postgres session variable read by the row-level security policies, then
// calls fn. The organization context is reset before the connection goes
// back to the pool so it cannot leak into another request.
func WithOrgConnection(ctx context.Context, pool *pgxpool.Pool, orgID string, fn func(ctx context.Context, q Querier) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() {
		// The request context may already be canceled here.
		_, _ = conn.Exec(context.Background(), "SELECT set_config('app.current_org_id', '', false)")
		conn.Release()
	}()

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_org_id', $1, false)", orgID)
	if err != nil {
		return fmt.Errorf("setting org context: %w", err)
	}

	return fn(ctx, conn)
}

// WithOrgTx is WithOrgConnection inside a transaction. fn's error rolls the
// transaction back.
func WithOrgTx(ctx context.Context, pool *pgxpool.Pool, orgID string, fn func(ctx context.Context, q Querier) error) error {
	return WithOrgConnection(ctx, pool, orgID, func(ctx context.Context, q Querier) error {
		conn, ok := q.(*pgxpool.Conn)
		if !ok {
			return fn(ctx, q)
		}
		return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
	})
}
