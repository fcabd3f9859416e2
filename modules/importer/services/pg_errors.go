package services

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
)

// classify turns a stage failure into a *RowError or a *FatalBatchError.
func classify(stage string, err error) error {
	if err == nil {
		return nil
	}

	var fatal *FatalBatchError
	if errors.As(err, &fatal) {
		return fatal
	}
	var rowErr *RowError
	if errors.As(err, &rowErr) {
		if rowErr.Stage == "" {
			rowErr.Stage = stage
		}
		return rowErr
	}
	if isFatal(err) {
		return &FatalBatchError{Stage: stage, Err: err}
	}

	var verr *rows.ValidationError
	if errors.As(err, &verr) {
		return &RowError{Kind: KindInvalidRow, Stage: stage, Err: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &RowError{Kind: KindStatement, Stage: stage, Err: err}
	}

	switch {
	case pgErr.Code == "23505", pgErr.Code == "23P01": // unique_violation, exclusion_violation
		recordStatementError("unique")
		return &RowError{Kind: KindConflict, Stage: stage, Err: err}
	case pgErr.Code == "23503": // foreign_key_violation
		recordStatementError("foreign_key")
		return &RowError{Kind: KindMissingReference, Stage: stage, Err: err}
	case pgErr.Code == "23502", pgErr.Code == "23514", sqlStateClass(pgErr.Code) == "22":
		recordStatementError("data")
		return &RowError{Kind: KindInvalidRow, Stage: stage, Err: err}
	default:
		recordStatementError("other")
		return &RowError{Kind: KindStatement, Stage: stage, Err: err}
	}
}

// isFatal reports whether err leaves the transaction or its connection
// unusable, which rules out skipping just the current row.
func isFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, pgx.ErrTxCommitRollback) {
		return true
	}
	var spErr *persistence.SavepointError
	if errors.As(err, &spErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch sqlStateClass(pgErr.Code) {
		case "08", // connection_exception
			"25", // invalid_transaction_state, incl. 25P02 in_failed_sql_transaction
			"40", // transaction_rollback
			"53", // insufficient_resources
			"57", // operator_intervention, incl. 57014 query_canceled
			"58", // system_error
			"XX": // internal_error
			return true
		}
		return false
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func sqlStateClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
