package internal

import (
	"context"
	"database/sql"
	"os"

	"golang.org/x/sync/errgroup"
)

type ctxKey string

const dbConnKey ctxKey = "dbconn"

func rlsEnabled() bool {
	return os.Getenv("RLS_ENABLED") == "true"
}

// withDBConn pins a connection for the request and sets the org GUC the
// row-level security policies read. Returns a nil conn when RLS is off.
func withDBConn(ctx context.Context, db *sql.DB, orgID int64) (*sql.Conn, context.Context, error) {
	if !rlsEnabled() {
		return nil, ctx, nil
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, ctx, err
	}
	if _, err = conn.ExecContext(ctx, "SELECT set_config('app.current_org_id', $1::text, false)", orgID); err != nil {
		conn.Close()
		return nil, ctx, err
	}
	return conn, context.WithValue(ctx, dbConnKey, conn), nil
}

// Prefer DB from context when RLS on; else use pool directly.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func dbFrom(ctx context.Context, db *sql.DB) querier {
	if c, ok := ctx.Value(dbConnKey).(*sql.Conn); ok && rlsEnabled() {
		return c
	}
	return db
}

// beginTx starts a transaction on the request's pinned connection if there
// is one, otherwise on the pool.
func beginTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	if c, ok := ctx.Value(dbConnKey).(*sql.Conn); ok && rlsEnabled() {
		return c.BeginTx(ctx, nil)
	}
	return db.BeginTx(ctx, nil)
}

// newQueryGroup returns an errgroup for fanning out read queries. A pinned
// connection serves one query at a time, so the group runs them one after
// another in that case.
func newQueryGroup(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if _, ok := ctx.Value(dbConnKey).(*sql.Conn); ok && rlsEnabled() {
		g.SetLimit(1)
	}
	return g, gctx
}
