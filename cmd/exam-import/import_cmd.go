package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/domain/summary"
	"github.com/iota-uz/exam-scheduler/modules/importer/services"
	"github.com/iota-uz/exam-scheduler/pkg/composables"
	"github.com/iota-uz/exam-scheduler/pkg/configuration"
)

type batchRunner interface {
	Run(ctx context.Context, flow rows.Flow, raws []rows.Raw, opts services.BatchOptions) (summary.Result, error)
}

// session is an open connection to the import engine.
type session struct {
	runner batchRunner
	logger *logrus.Logger
	close  func()
}

type connectFunc func(ctx context.Context, aliases rows.Aliases) (*session, error)

type importOptions struct {
	flow      string
	input     string
	sheet     string
	columns   string
	reportDir string
	siteID    int64
	apply     bool
	strict    bool
}

func newImportCmd(connect connectFunc) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import one spreadsheet through an import flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), opts, connect)
		},
	}

	cmd.Flags().StringVar(&opts.flow, "flow", "", "Import flow: academic, students, teachers or rooms (required)")
	cmd.Flags().StringVar(&opts.input, "input", "", "Input file: .json, .csv or .xlsx (required)")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "Worksheet to read from an .xlsx input (default: first sheet)")
	cmd.Flags().StringVar(&opts.columns, "columns", "", "YAML file with column aliases per flow")
	cmd.Flags().StringVar(&opts.reportDir, "report", "", "Directory to write the JSON import report to")
	cmd.Flags().Int64Var(&opts.siteID, "site", 0, "Site owning new schools (default: payload site_id, then IMPORT_DEFAULT_SITE_ID)")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Commit the batch (default is dry-run)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero when any row was ignored with an error")

	_ = cmd.MarkFlagRequired("flow")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runImport(ctx context.Context, out io.Writer, opts importOptions, connect connectFunc) error {
	flow, err := rows.ParseFlow(opts.flow)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if strings.TrimSpace(opts.input) == "" {
		return withCode(exitUsage, fmt.Errorf("--input is required"))
	}
	if opts.siteID < 0 {
		return withCode(exitUsage, fmt.Errorf("invalid --site: %d", opts.siteID))
	}

	batch, err := readInput(opts.input, opts.sheet)
	if err != nil {
		return err
	}

	var aliases rows.Aliases
	if opts.columns != "" {
		if aliases, err = readAliases(opts.columns); err != nil {
			return err
		}
	}

	batchOpts := services.BatchOptions{DryRun: !opts.apply, RunID: uuid.New()}
	switch {
	case opts.siteID > 0:
		batchOpts.SiteID = opts.siteID
	case batch.SiteID != nil:
		batchOpts.SiteID = *batch.SiteID
	}

	s, err := connect(ctx, aliases)
	if err != nil {
		return err
	}
	defer s.close()

	logger := s.logger.WithFields(logrus.Fields{"run_id": batchOpts.RunID.String(), "input": opts.input})
	ctx = composables.WithLogger(ctx, logger)

	result, runErr := s.runner.Run(ctx, flow, batch.Rows, batchOpts)
	var fatal *services.FatalBatchError
	switch {
	case runErr == nil, errors.As(runErr, &fatal):
	case errors.Is(runErr, services.ErrTooManyRows), errors.Is(runErr, services.ErrUnknownFlow):
		return withCode(exitUsage, runErr)
	default:
		return withCode(exitDB, runErr)
	}

	if opts.reportDir != "" {
		if err := writeJSONFile(reportPath(opts.reportDir, result.RunID, time.Now()), result); err != nil {
			return err
		}
	}
	if err := writeJSONLine(out, result); err != nil {
		return err
	}

	if fatal != nil {
		return withCode(exitBatchFailed, runErr)
	}
	if opts.strict && len(result.Details) > 0 {
		return withCode(exitRowErrors, fmt.Errorf("%d of %d rows failed", len(result.Details), result.TotalRows))
	}
	return nil
}

func reportPath(dir string, runID uuid.UUID, at time.Time) string {
	name := fmt.Sprintf("import_report_%s_%s.json", at.UTC().Format("20060102T150405Z"), runID)
	return filepath.Join(dir, name)
}

func connectRunner(ctx context.Context, aliases rows.Aliases) (*session, error) {
	conf, err := configuration.Load(".env", ".env.local")
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("load configuration: %w", err))
	}

	opts := services.OptionsFromConfig(conf.Import)
	opts.Aliases = aliases
	if aliases == nil && conf.Import.ColumnsFile != "" {
		if opts.Aliases, err = readAliases(conf.Import.ColumnsFile); err != nil {
			conf.Unload()
			return nil, err
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err == nil {
		err = pool.Ping(connectCtx)
		if err != nil {
			pool.Close()
		}
	}
	if err != nil {
		conf.Unload()
		return nil, withCode(exitDB, fmt.Errorf("db connect failed: %w", err))
	}

	return &session{
		runner: services.NewImportService(pool, opts),
		logger: conf.Logger(),
		close: func() {
			pool.Close()
			conf.Unload()
		},
	}, nil
}
