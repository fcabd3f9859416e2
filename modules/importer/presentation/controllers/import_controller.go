package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/domain/summary"
	"github.com/iota-uz/exam-scheduler/modules/importer/services"
	"github.com/iota-uz/exam-scheduler/pkg/application"
	"github.com/iota-uz/exam-scheduler/pkg/composables"
	"github.com/iota-uz/exam-scheduler/pkg/httpapi"
)

const defaultMaxUploadSize = 32 << 20

// BatchRunner is implemented by *services.ImportService.
type BatchRunner interface {
	Run(ctx context.Context, flow rows.Flow, raws []rows.Raw, opts services.BatchOptions) (summary.Result, error)
}

type ImportController struct {
	runner        BatchRunner
	basePath      string
	maxUploadSize int64
}

func NewImportController(app application.Application, maxUploadSize int64) application.Controller {
	return NewImportControllerWithRunner(app.Service(services.ImportService{}).(*services.ImportService), maxUploadSize)
}

func NewImportControllerWithRunner(runner BatchRunner, maxUploadSize int64) *ImportController {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &ImportController{
		runner:        runner,
		basePath:      "/importer/api",
		maxUploadSize: maxUploadSize,
	}
}

func (c *ImportController) Key() string {
	return c.basePath
}

func (c *ImportController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/{flow}", instrumentAPI("import", c.Import)).Methods(http.MethodPost)
}

// Import runs one batch. 201 means the batch completed, possibly with failed
// rows listed in details; 500 means everything was rolled back.
func (c *ImportController) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, _ := composables.UseRequestID(ctx)
	logger := composables.UseLogger(ctx)

	flow, err := rows.ParseFlow(mux.Vars(r)["flow"])
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeUnknownFlow, err.Error(), requestID, nil)
		return
	}

	batch, err := rows.DecodeBatch(http.MaxBytesReader(w, r.Body, c.maxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = httpapi.WriteError(w, http.StatusRequestEntityTooLarge, httpapi.CodeInvalidRequest,
				fmt.Sprintf("payload exceeds %d bytes", tooLarge.Limit), requestID, nil)
			return
		}
		_ = httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeInvalidRequest, err.Error(), requestID, nil)
		return
	}

	opts, err := batchOptions(r, batch)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeInvalidRequest, err.Error(), requestID, nil)
		return
	}

	res, err := c.runner.Run(ctx, flow, batch.Rows, opts)
	var fatal *services.FatalBatchError
	switch {
	case err == nil:
		_ = httpapi.WriteJSON(w, http.StatusCreated, res)
	case errors.Is(err, services.ErrTooManyRows):
		_ = httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeTooManyRows, err.Error(), requestID, nil)
	case errors.Is(err, services.ErrUnknownFlow):
		_ = httpapi.WriteError(w, http.StatusBadRequest, httpapi.CodeUnknownFlow, err.Error(), requestID, nil)
	case errors.As(err, &fatal):
		_ = httpapi.WriteJSON(w, http.StatusInternalServerError, res)
	default:
		logger.WithError(err).WithField("flow", string(flow)).Error("import batch failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternal, "internal error", requestID, nil)
	}
}

// batchOptions reads ?site_id= (overriding the payload's site_id) and
// ?dry_run=.
func batchOptions(r *http.Request, batch rows.Batch) (services.BatchOptions, error) {
	var opts services.BatchOptions
	if batch.SiteID != nil {
		opts.SiteID = *batch.SiteID
	}
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("site_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return opts, fmt.Errorf("site_id must be a positive integer, got %q", v)
		}
		opts.SiteID = id
	}
	if v := strings.TrimSpace(q.Get("dry_run")); v != "" {
		dry, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("dry_run must be a boolean, got %q", v)
		}
		opts.DryRun = dry
	}
	return opts, nil
}
