package persistence

import (
	"context"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

// ResolveOrCreate returns the id of the row matched by lookup, or inserts
// one with insert (which must return the new id) and reports created=true.
//
// The insert runs inside a savepoint so a unique violation leaves q usable.
// In that case the lookup is retried once and its match returned; when it
// still finds nothing the violation is returned.
func ResolveOrCreate(
	ctx context.Context,
	q Querier,
	lookup, insert Statement,
	lookupArgs, insertArgs []any,
) (int64, bool, error) {
	id, found, err := LookupID(ctx, q, lookup, lookupArgs...)
	if err != nil {
		return 0, false, err
	}
	if found {
		return id, false, nil
	}

	sp, err := q.Begin(ctx)
	if err != nil {
		return 0, false, &SavepointError{Op: "begin", Err: err}
	}
	if err := sp.QueryRow(ctx, insert.SQL, insertArgs...).Scan(&id); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return 0, false, &SavepointError{Op: "rollback", Err: errors.Join(rbErr, err)}
		}
		if !IsUniqueViolation(err) {
			return 0, false, gerrors.Wrap(err, insert.Name)
		}
		existing, found, lookupErr := LookupID(ctx, q, lookup, lookupArgs...)
		if lookupErr != nil {
			return 0, false, lookupErr
		}
		if !found {
			return 0, false, gerrors.Wrap(err, insert.Name)
		}
		return existing, false, nil
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, false, &SavepointError{Op: "release", Err: err}
	}
	return id, true, nil
}

// LookupID runs a single-column id query and reports whether a row matched.
func LookupID(ctx context.Context, q Querier, lookup Statement, args ...any) (int64, bool, error) {
	var id int64
	err := q.QueryRow(ctx, lookup.SQL, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, gerrors.Wrap(err, lookup.Name)
	}
	return id, true, nil
}

// LinkIfAbsent runs an insert guarded by NOT EXISTS and reports whether a
// row was written.
func LinkIfAbsent(ctx context.Context, q Querier, link Statement, args ...any) (bool, error) {
	tag, err := q.Exec(ctx, link.SQL, args...)
	if err != nil {
		return false, gerrors.Wrap(err, link.Name)
	}
	return tag.RowsAffected() > 0, nil
}
