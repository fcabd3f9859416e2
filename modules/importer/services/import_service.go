// Package services runs import batches: every row of a batch is reconciled
// against the database inside its own savepoint, and the batch commits as
// one transaction.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/domain/summary"
	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
	"github.com/iota-uz/exam-scheduler/pkg/composables"
	"github.com/iota-uz/exam-scheduler/pkg/configuration"
)

var tracer = otel.Tracer("github.com/iota-uz/exam-scheduler/modules/importer/services")

// errDryRun makes InTx roll back a dry run after every row was processed.
var errDryRun = errors.New("dry run")

type Options struct {
	TeacherRole      string
	StudentRole      string
	DefaultSiteID    int64
	BcryptCost       int
	MaxRows          int
	StatementTimeout time.Duration
	Aliases          rows.Aliases
}

func OptionsFromConfig(o configuration.ImportOptions) Options {
	return Options{
		TeacherRole:      o.TeacherRole,
		StudentRole:      o.StudentRole,
		DefaultSiteID:    o.DefaultSiteID,
		BcryptCost:       o.BcryptCost,
		MaxRows:          o.MaxRows,
		StatementTimeout: o.StatementTimeout,
	}
}

// BatchOptions are the per-request knobs of Run.
type BatchOptions struct {
	// SiteID owns the schools created by an academic batch. Zero selects the
	// configured default site.
	SiteID int64
	DryRun bool
	// RunID tags exams created by the batch. Zero generates a new one.
	RunID uuid.UUID
}

type ImportService struct {
	db   composables.TxBeginner
	opts Options
	now  func() time.Time
}

func NewImportService(db composables.TxBeginner, opts Options) *ImportService {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &ImportService{db: db, opts: opts, now: time.Now}
}

// batch is the state shared by all rows of one Run.
type batch struct {
	flow          rows.Flow
	runID         uuid.UUID
	siteID        int64
	startedAt     time.Time
	teacherRoleID int64
	studentRoleID int64
}

type rowHandler func(ctx context.Context, q persistence.Querier, b *batch, raw rows.Raw, tally *summary.RowTally) error

func (s *ImportService) handler(flow rows.Flow) (rowHandler, bool) {
	switch flow {
	case rows.FlowAcademic:
		return s.importAcademic, true
	case rows.FlowStudents:
		return s.importStudent, true
	case rows.FlowTeachers:
		return s.importTeacher, true
	case rows.FlowRooms:
		return s.importRoom, true
	default:
		return nil, false
	}
}

// Run imports raws through flow in a single transaction.
//
// Rows failing on their own are rolled back to their savepoint and listed in
// the result details; the batch still commits. A *FatalBatchError rolls back
// the whole batch and is returned together with a result describing it.
// ErrUnknownFlow and ErrTooManyRows are returned before anything is written.
func (s *ImportService) Run(ctx context.Context, flow rows.Flow, raws []rows.Raw, opts BatchOptions) (summary.Result, error) {
	handle, ok := s.handler(flow)
	if !ok {
		return summary.Result{}, gerrors.Wrapf(ErrUnknownFlow, "flow %q", flow)
	}
	if s.opts.MaxRows > 0 && len(raws) > s.opts.MaxRows {
		return summary.Result{}, fmt.Errorf("%w: %d rows, limit is %d", ErrTooManyRows, len(raws), s.opts.MaxRows)
	}

	b := &batch{
		flow:      flow,
		runID:     opts.RunID,
		siteID:    opts.SiteID,
		startedAt: s.now().UTC(),
	}
	if b.runID == uuid.Nil {
		b.runID = uuid.New()
	}
	if b.siteID == 0 {
		b.siteID = s.opts.DefaultSiteID
	}

	ctx, span := tracer.Start(ctx, "importer.batch", trace.WithAttributes(
		attribute.String("importer.flow", string(flow)),
		attribute.String("importer.run_id", b.runID.String()),
		attribute.Int("importer.rows", len(raws)),
		attribute.Bool("importer.dry_run", opts.DryRun),
	))
	defer span.End()

	fields := logrus.Fields{"run_id": b.runID.String(), "flow": string(flow)}
	ctx = composables.WithLogger(ctx, composables.UseLogger(ctx).WithFields(fields))

	agg := summary.NewAggregator()
	err := composables.InTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.prepare(ctx, tx, b); err != nil {
			return err
		}
		for i, raw := range raws {
			if err := s.runRow(ctx, tx, b, i+1, raw, handle, agg); err != nil {
				return err
			}
		}
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})

	res := summary.Result{
		Summary:   agg.Summary(),
		Details:   agg.Details(),
		RunID:     b.runID,
		Flow:      string(flow),
		TotalRows: len(raws),
		DryRun:    opts.DryRun,
	}
	elapsed := s.now().UTC().Sub(b.startedAt)

	switch {
	case err == nil:
		res.Committed = true
		res.Message = fmt.Sprintf("Import completed: %d of %d rows imported, %d with errors",
			agg.Succeeded(), len(raws), agg.Failed())
		recordBatch(string(flow), resultCommitted, elapsed)
	case errors.Is(err, errDryRun):
		res.Message = fmt.Sprintf("Dry run completed: %d of %d rows would be imported, %d with errors; nothing was saved",
			agg.Succeeded(), len(raws), agg.Failed())
		recordBatch(string(flow), resultDryRun, elapsed)
	default:
		var fatal *FatalBatchError
		if !errors.As(err, &fatal) {
			fatal = &FatalBatchError{Stage: "transaction", Err: err}
		}
		// Summary keeps the in-memory counts of the rows processed before the
		// failure; none of them were persisted.
		res.Message = "Import failed: all changes were rolled back"
		res.Fatal = fatal.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, fatal.Error())
		logWithFields(ctx, logrus.ErrorLevel, "import batch rolled back", logrus.Fields{
			"fila":  fatal.Row,
			"stage": fatal.Stage,
			"error": err.Error(),
		})
		recordBatch(string(flow), resultRolledBack, elapsed)
		return res, fatal
	}

	span.SetAttributes(
		attribute.Int("importer.rows_committed", agg.Succeeded()),
		attribute.Int("importer.rows_failed", agg.Failed()),
	)
	logWithFields(ctx, logrus.InfoLevel, "import batch finished", logrus.Fields{
		"total_rows": len(raws),
		"committed":  agg.Succeeded(),
		"failed":     agg.Failed(),
		"dry_run":    opts.DryRun,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return res, nil
}

// prepare applies the batch statement timeout and resolves the roles the
// flow assigns to new accounts.
func (s *ImportService) prepare(ctx context.Context, q persistence.Querier, b *batch) error {
	if err := persistence.ApplyStatementTimeout(ctx, q, s.opts.StatementTimeout); err != nil {
		return &FatalBatchError{Stage: "prepare", Err: err}
	}

	var err error
	switch b.flow {
	case rows.FlowAcademic, rows.FlowTeachers:
		b.teacherRoleID, err = persistence.FindRoleID(ctx, q, s.opts.TeacherRole)
	case rows.FlowStudents:
		b.studentRoleID, err = persistence.FindRoleID(ctx, q, s.opts.StudentRole)
	}
	if err != nil {
		return &FatalBatchError{Stage: "roles", Err: err}
	}
	return nil
}

// runRow processes one row inside a savepoint. It only returns an error when
// the batch has to be aborted.
func (s *ImportService) runRow(
	ctx context.Context,
	tx pgx.Tx,
	b *batch,
	fila int,
	raw rows.Raw,
	handle rowHandler,
	agg *summary.Aggregator,
) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return &FatalBatchError{Row: fila, Stage: "savepoint", Err: err}
	}
	if s.opts.Aliases != nil {
		raw = s.opts.Aliases.Apply(b.flow, raw)
	}

	tally := &summary.RowTally{}
	err = handle(ctx, sp, b, raw, tally)
	if err == nil {
		if err := sp.Commit(ctx); err != nil {
			return &FatalBatchError{Row: fila, Stage: "savepoint", Err: err}
		}
		agg.Commit(tally)
		recordRow(string(b.flow), resultCommitted)
		return nil
	}

	var fatal *FatalBatchError
	if errors.As(err, &fatal) {
		if fatal.Row == 0 {
			fatal.Row = fila
		}
		return fatal
	}
	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		rowErr = &RowError{Kind: KindStatement, Err: err}
	}
	if rbErr := sp.Rollback(ctx); rbErr != nil {
		return &FatalBatchError{Row: fila, Stage: "savepoint", Err: errors.Join(rbErr, err)}
	}

	agg.Fail(summary.Detail{
		Row:   fila,
		Error: rowErr.Error(),
		Stage: rowErr.Stage,
		Kind:  string(rowErr.Kind),
	}, string(rowErr.Kind))
	recordRow(string(b.flow), string(rowErr.Kind))
	logWithFields(ctx, logrus.WarnLevel, "import row rolled back", logrus.Fields{
		"fila":  fila,
		"stage": rowErr.Stage,
		"kind":  string(rowErr.Kind),
		"error": rowErr.Error(),
	})
	return nil
}

func (s *ImportService) hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), s.opts.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
