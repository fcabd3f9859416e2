package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the transaction handle threaded through every import stage.
// pgx.Tx satisfies it; Begin on a transaction opens a savepoint.
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Statement is a named SQL statement. The name only shows up in errors.
type Statement struct {
	Name string
	SQL  string
}

// SavepointError means a savepoint could not be opened, released or rolled
// back. The enclosing transaction can no longer be trusted.
type SavepointError struct {
	Op  string
	Err error
}

func (e *SavepointError) Error() string {
	return fmt.Sprintf("savepoint %s: %v", e.Op, e.Err)
}

func (e *SavepointError) Unwrap() error {
	return e.Err
}

const uniqueViolation = "23505"

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
