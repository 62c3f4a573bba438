// Package dbasync offloads database/sql work through a bridge.Handle.
//
// Every helper checks out one *sql.Conn from a resource.Pool on a worker
// goroutine and returns a *bridge.Future, so callers on a loop.Loop never
// block on the database:
//
//	users := dbasync.Load(ctx, h, conns,
//		dbasync.Q("SELECT id, name FROM users WHERE team = $1", team),
//		func(rows *sql.Rows) (User, error) {
//			var u User
//			return u, rows.Scan(&u.ID, &u.Name)
//		})
//
// Errors follow the bridge taxonomy. A query error, including sql.ErrNoRows
// from First, resolves as bridge.KindOperationFailed with the driver error
// reachable through errors.Is.
package dbasync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/blockbridge/pkg/bridge"
	"github.com/vnykmshr/blockbridge/pkg/resource"
)

// Conns is the resource pool every helper draws from.
type Conns = resource.Pool[*sql.Conn]

// Query is a statement with its arguments.
type Query struct {
	SQL  string
	Args []any
}

// Q builds a Query.
func Q(sql string, args ...any) Query {
	return Query{SQL: sql, Args: args}
}

// ScanFunc reads the current row.
type ScanFunc[T any] func(rows *sql.Rows) (T, error)

// Run offloads fn against a pooled connection.
func Run[T any](ctx context.Context, h *bridge.Handle, conns Conns, fn func(ctx context.Context, conn *sql.Conn) (T, error), opts ...bridge.CallOption) *bridge.Future[T] {
	return bridge.RunBlocking(ctx, h, conns, fn, named("run", opts)...)
}

// Transaction runs fn inside a transaction on a pooled connection. The
// transaction commits when fn returns nil and rolls back when fn returns an
// error or panics; a panic is re-raised after the rollback and surfaces as
// bridge.KindWorkerPanicked.
func Transaction[T any](ctx context.Context, h *bridge.Handle, conns Conns, fn func(ctx context.Context, tx *sql.Tx) (T, error), opts ...bridge.CallOption) *bridge.Future[T] {
	return bridge.RunBlocking(ctx, h, conns, func(ctx context.Context, conn *sql.Conn) (value T, err error) {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return value, fmt.Errorf("begin transaction: %w", err)
		}

		committed := false
		defer func() {
			if committed {
				return
			}
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) && err != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
			}
		}()

		value, err = fn(ctx, tx)
		if err != nil {
			return value, err
		}
		if err = tx.Commit(); err != nil {
			var zero T
			return zero, fmt.Errorf("commit: %w", err)
		}
		committed = true
		return value, nil
	}, named("transaction", opts)...)
}

// BatchExecute runs a string of one or more statements that return no rows,
// such as a schema migration.
func BatchExecute(ctx context.Context, h *bridge.Handle, conns Conns, statements string, opts ...bridge.CallOption) *bridge.Future[struct{}] {
	return bridge.RunBlocking(ctx, h, conns, func(ctx context.Context, conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(ctx, statements)
		return struct{}{}, err
	}, named("batch_execute", opts)...)
}

// Exec runs q and resolves with the number of rows affected.
func Exec(ctx context.Context, h *bridge.Handle, conns Conns, q Query, opts ...bridge.CallOption) *bridge.Future[int64] {
	return bridge.RunBlocking(ctx, h, conns, func(ctx context.Context, conn *sql.Conn) (int64, error) {
		res, err := conn.ExecContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, named("exec", opts)...)
}

// Load runs q and scans every row.
func Load[T any](ctx context.Context, h *bridge.Handle, conns Conns, q Query, scan ScanFunc[T], opts ...bridge.CallOption) *bridge.Future[[]T] {
	return bridge.RunBlocking(ctx, h, conns, func(ctx context.Context, conn *sql.Conn) ([]T, error) {
		rows, err := conn.QueryContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []T
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, rows.Err()
	}, named("load", opts)...)
}

// First runs q and scans the first row. It resolves with sql.ErrNoRows,
// as bridge.KindOperationFailed, when q returns nothing.
func First[T any](ctx context.Context, h *bridge.Handle, conns Conns, q Query, scan ScanFunc[T], opts ...bridge.CallOption) *bridge.Future[T] {
	return bridge.RunBlocking(ctx, h, conns, func(ctx context.Context, conn *sql.Conn) (T, error) {
		var zero T
		rows, err := conn.QueryContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return zero, err
		}
		defer rows.Close()

		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return zero, err
			}
			return zero, sql.ErrNoRows
		}
		return scan(rows)
	}, named("first", opts)...)
}

// Optional turns a missing row into a nil pointer. Any other error is
// returned unchanged.
//
//	user, err := dbasync.Optional(f.Await(ctx))
func Optional[T any](value T, err error) (*T, error) {
	if err != nil {
		if bridge.IsOperationFailed(err) && errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}

// All waits for every future and returns their values in order. The first
// failure cancels the futures still pending and is returned.
func All[T any](ctx context.Context, futures ...*bridge.Future[T]) ([]T, error) {
	out := make([]T, len(futures))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range futures {
		i, f := i, f
		g.Go(func() error {
			v, err := f.Await(gctx)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// named puts a default call name ahead of the caller's options.
func named(name string, opts []bridge.CallOption) []bridge.CallOption {
	return append([]bridge.CallOption{bridge.WithName(name)}, opts...)
}
