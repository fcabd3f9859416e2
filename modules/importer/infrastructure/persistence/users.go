package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

var ErrRoleNotFound = errors.New("role not found")

// UserRecord is the part of a user account the teacher upsert compares.
type UserRecord struct {
	ID    int64
	Name  string
	Email string
}

// FindTeacher returns nil when no user carries externalID.
func FindTeacher(ctx context.Context, q Querier, externalID string) (*UserRecord, error) {
	var u UserRecord
	err := q.QueryRow(ctx, LookupTeacher.SQL, externalID).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.Wrap(err, LookupTeacher.Name)
	}
	return &u, nil
}

// FindEmailOwner returns the id of the account using email, or zero.
func FindEmailOwner(ctx context.Context, q Querier, email string) (int64, error) {
	id, _, err := LookupID(ctx, q, LookupUserByEmail, email)
	return id, err
}

// UpdateUser overwrites the non-nil fields.
func UpdateUser(ctx context.Context, q Querier, id int64, name, email *string) error {
	if _, err := q.Exec(ctx, UpdateUserFields.SQL, id, name, email); err != nil {
		return gerrors.Wrap(err, UpdateUserFields.Name)
	}
	return nil
}

func FindRoleID(ctx context.Context, q Querier, name string) (int64, error) {
	id, found, err := LookupID(ctx, q, LookupRole, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, gerrors.Wrapf(ErrRoleNotFound, "role %q", name)
	}
	return id, nil
}

// ApplyStatementTimeout limits every following statement of the current
// transaction. Zero leaves the server default in place.
func ApplyStatementTimeout(ctx context.Context, q Querier, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	if _, err := q.Exec(ctx, SetStatementTimeout.SQL, ms); err != nil {
		return gerrors.Wrap(err, SetStatementTimeout.Name)
	}
	return nil
}
