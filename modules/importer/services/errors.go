package services

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownFlow = errors.New("unknown import flow")
	ErrTooManyRows = errors.New("too many rows in batch")
)

type ErrorKind string

const (
	KindInvalidRow       ErrorKind = "invalid_row"
	KindConflict         ErrorKind = "conflict"
	KindMissingReference ErrorKind = "missing_reference"
	KindStatement        ErrorKind = "statement_error"
)

// RowError is confined to a single row. The row is rolled back to its
// savepoint and reported; the batch continues.
type RowError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *RowError) Error() string {
	return e.Err.Error()
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func rowErrorf(kind ErrorKind, stage, format string, args ...any) *RowError {
	return &RowError{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// FatalBatchError aborts the batch. The whole transaction is rolled back.
type FatalBatchError struct {
	Row   int
	Stage string
	Err   error
}

func (e *FatalBatchError) Error() string {
	switch {
	case e.Row > 0:
		return fmt.Sprintf("row %d, %s: %v", e.Row, e.Stage, e.Err)
	case e.Stage != "":
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *FatalBatchError) Unwrap() error {
	return e.Err
}
