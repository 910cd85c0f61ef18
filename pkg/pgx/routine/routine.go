// Package routine invokes stored procedures and functions. Procedures are
// run with CALL and return their OUT parameters as a single row; functions
// are run with SELECT. Every invocation runs in its own transaction.
package routine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/mariukha/CoopManager/pkg/metrics"
	pg "github.com/mariukha/CoopManager/pkg/pgx"
)

// Routine identifies a stored routine and its arity.
type Routine interface {
	QualifiedName() []string
	String() string
}

// CallStatement renders `CALL name($1, ..., $in, NULL, ...)` with one NULL
// placeholder per OUT parameter.
func CallStatement(name []string, in, out int) string {
	params := placeholders(in)
	for range out {
		params = append(params, "NULL")
	}
	return fmt.Sprintf("CALL %s(%s)", pgx.Identifier(name).Sanitize(), strings.Join(params, ", "))
}

// SelectStatement renders `SELECT name($1, ..., $in)`.
func SelectStatement(name []string, in int) string {
	return fmt.Sprintf("SELECT %s(%s)", pgx.Identifier(name).Sanitize(), strings.Join(placeholders(in), ", "))
}

// arity is implemented by routines that know their parameter counts.
type arity interface {
	Arity() (in, out int)
}

func checkArity(r Routine, in, out int) error {
	a, ok := r.(arity)
	if !ok {
		return nil
	}
	if wantIn, wantOut := a.Arity(); wantIn != in || wantOut != out {
		return fmt.Errorf("%s: want %d in / %d out arguments, got %d / %d", r, wantIn, wantOut, in, out)
	}
	return nil
}

func placeholders(n int) []string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", i+1)
	}
	return p
}

// Call runs procedure r with args and scans its OUT parameters into out.
// The number of OUT parameters is len(out).
func Call(ctx context.Context, conn pg.Conn, r Routine, args []any, out ...any) error {
	if err := checkArity(r, len(args), len(out)); err != nil {
		return err
	}
	sql := CallStatement(r.QualifiedName(), len(args), len(out))
	return inTx(ctx, conn, r, func(tx pgx.Tx) error {
		if len(out) == 0 {
			_, err := tx.Exec(ctx, sql, args...)
			return err
		}
		return tx.QueryRow(ctx, sql, args...).Scan(out...)
	})
}

// Func runs function r with args and scans its result into dest.
func Func(ctx context.Context, conn pg.Conn, r Routine, args []any, dest any) error {
	if err := checkArity(r, len(args), 0); err != nil {
		return err
	}
	sql := SelectStatement(r.QualifiedName(), len(args))
	return inTx(ctx, conn, r, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, sql, args...).Scan(dest)
	})
}

func inTx(ctx context.Context, conn pg.Conn, r Routine, fn func(pgx.Tx) error) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RoutineCalls.WithLabelValues(r.String(), outcome).Inc()
	}()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", r, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", r, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", r, err)
	}
	return nil
}
