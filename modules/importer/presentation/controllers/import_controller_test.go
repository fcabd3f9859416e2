package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
	"github.com/iota-uz/exam-scheduler/modules/importer/domain/summary"
	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence"
	"github.com/iota-uz/exam-scheduler/modules/importer/infrastructure/persistence/memdb"
	"github.com/iota-uz/exam-scheduler/modules/importer/services"
)

type runCall struct {
	flow rows.Flow
	raws []rows.Raw
	opts services.BatchOptions
}

type stubRunner struct {
	calls []runCall
	res   summary.Result
	err   error
}

func (s *stubRunner) Run(_ context.Context, flow rows.Flow, raws []rows.Raw, opts services.BatchOptions) (summary.Result, error) {
	s.calls = append(s.calls, runCall{flow: flow, raws: raws, opts: opts})
	return s.res, s.err
}

func serve(t *testing.T, c *ImportController, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := mux.NewRouter()
	c.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestImport_PassesRowsAndOptions(t *testing.T) {
	runner := &stubRunner{res: summary.Result{Message: "ok", Summary: summary.NewSummary()}}
	c := NewImportControllerWithRunner(runner, 0)

	rec := serve(t, c, http.MethodPost, "/importer/api/Rooms?site_id=7&dry_run=1",
		`{"rows":[{"Codigo":"A-101","Capacidad":40}],"site_id":3}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	require.Equal(t, rows.FlowRooms, call.flow)
	require.Equal(t, json.Number("40"), call.raws[0]["Capacidad"])
	require.Equal(t, int64(7), call.opts.SiteID)
	require.True(t, call.opts.DryRun)
	require.Equal(t, "ok", decode(t, rec)["message"])
}

func TestImport_SiteIDFromPayload(t *testing.T) {
	runner := &stubRunner{}
	c := NewImportControllerWithRunner(runner, 0)

	rec := serve(t, c, http.MethodPost, "/importer/api/academic", `{"rows":[],"site_id":3}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, int64(3), runner.calls[0].opts.SiteID)
	require.False(t, runner.calls[0].opts.DryRun)
}

func TestImport_BadRequests(t *testing.T) {
	cases := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"unknown flow", "/importer/api/grades", `[]`, http.StatusBadRequest, "UNKNOWN_FLOW"},
		{"empty body", "/importer/api/rooms", ``, http.StatusBadRequest, "INVALID_REQUEST"},
		{"not json", "/importer/api/rooms", `Codigo;Nombre`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad site", "/importer/api/rooms?site_id=abc", `[]`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad dry run", "/importer/api/rooms?dry_run=maybe", `[]`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"too large", "/importer/api/rooms", `[` + strings.Repeat(`{"Codigo":"A-1"},`, 10) + `{}]`, http.StatusRequestEntityTooLarge, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &stubRunner{}
			c := NewImportControllerWithRunner(runner, 64)

			rec := serve(t, c, http.MethodPost, tc.target, tc.body)

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, decode(t, rec)["code"])
			require.Empty(t, runner.calls)
		})
	}
}

func TestImport_RunnerErrors(t *testing.T) {
	fatal := &services.FatalBatchError{Row: 2, Stage: "subject", Err: errors.New("connection reset")}
	cases := []struct {
		name   string
		res    summary.Result
		err    error
		status int
	}{
		{"too many rows", summary.Result{}, services.ErrTooManyRows, http.StatusBadRequest},
		{"fatal", summary.Result{Message: "Import failed: all changes were rolled back", Fatal: fatal.Error()}, fatal, http.StatusInternalServerError},
		{"unexpected", summary.Result{}, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewImportControllerWithRunner(&stubRunner{res: tc.res, err: tc.err}, 0)
			rec := serve(t, c, http.MethodPost, "/importer/api/academic", `[]`)
			require.Equal(t, tc.status, rec.Code)
		})
	}

	c := NewImportControllerWithRunner(&stubRunner{res: summary.Result{Fatal: fatal.Error()}, err: fatal}, 0)
	body := decode(t, serve(t, c, http.MethodPost, "/importer/api/academic", `[]`))
	require.Equal(t, "row 2, subject: connection reset", body["details"])
}

func TestImport_EndToEndOverMemDB(t *testing.T) {
	db := memdb.New()
	db.Seed("roles", memdb.Record{"name": "Docente"})
	svc := services.NewImportService(db, services.Options{TeacherRole: "Docente", BcryptCost: bcrypt.MinCost})
	c := NewImportControllerWithRunner(svc, 0)

	rec := serve(t, c, http.MethodPost, "/importer/api/teachers", `[
		{"Rut Docente": "12345", "Docente": "Ana Ruiz", "Mail Duoc": "ana@x.cl"},
		{"Rut Docente": "", "Docente": "Sin Rut"}
	]`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	require.Equal(t, map[string]any{"teachers": float64(1)}, body["summary"].(map[string]any)["inserted"])
	details := body["details"].([]any)
	require.Len(t, details, 1)
	require.Equal(t, float64(2), details[0].(map[string]any)["fila"])
	require.Equal(t, 1, db.Count("users"))
}

func TestImport_NonObjectRowFailsOnlyItself(t *testing.T) {
	db := memdb.New()
	db.Seed("roles", memdb.Record{"name": "Docente"})
	svc := services.NewImportService(db, services.Options{TeacherRole: "Docente", BcryptCost: bcrypt.MinCost})
	c := NewImportControllerWithRunner(svc, 0)

	rec := serve(t, c, http.MethodPost, "/importer/api/teachers", `[
		{"Rut Docente": "1", "Docente": "Ana Ruiz", "Mail Duoc": "ana@x.cl"},
		"x",
		{"Rut Docente": "2", "Docente": "Luis Soto", "Mail Duoc": "luis@x.cl"}
	]`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	details := body["details"].([]any)
	require.Len(t, details, 1)
	detail := details[0].(map[string]any)
	require.Equal(t, float64(2), detail["fila"])
	require.Equal(t, string(services.KindInvalidRow), detail["kind"])
	require.Equal(t, 2, db.Count("users"))
}

func TestImport_FatalEndToEnd(t *testing.T) {
	db := memdb.New()
	db.Seed("roles", memdb.Record{"name": "Docente"})
	db.Inject(&memdb.Fault{Statement: persistence.LookupTeacher, Err: context.DeadlineExceeded})
	svc := services.NewImportService(db, services.Options{TeacherRole: "Docente", BcryptCost: bcrypt.MinCost})
	c := NewImportControllerWithRunner(svc, 0)

	rec := serve(t, c, http.MethodPost, "/importer/api/teachers", `[{"Rut Docente": "12345", "Mail Duoc": "ana@x.cl"}]`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	require.IsType(t, "", body["details"])
	require.Equal(t, false, body["committed"])
	require.Zero(t, db.Count("users"))
}

func TestImport_RecordsAPIMetrics(t *testing.T) {
	before := counterValue(t, "importer_api_requests_total", map[string]string{"endpoint": "import", "result": "4xx"})

	c := NewImportControllerWithRunner(&stubRunner{}, 0)
	serve(t, c, http.MethodPost, "/importer/api/grades", `[]`)

	after := counterValue(t, "importer_api_requests_total", map[string]string{"endpoint": "import", "result": "4xx"})
	require.Equal(t, before+1, after)
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
