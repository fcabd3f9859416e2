package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/exam-scheduler/pkg/composables"
	"github.com/iota-uz/exam-scheduler/pkg/configuration"
)

func newRouter(t *testing.T, buf *bytes.Buffer, handler http.HandlerFunc) *mux.Router {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	conf := &configuration.Configuration{RequestIDHeader: "X-Request-ID", RealIPHeader: "X-Real-IP"}

	r := mux.NewRouter()
	r.Use(WithLogger(logger, conf, DefaultLoggerOptions()))
	r.HandleFunc("/importer/api/{flow}", handler)
	r.HandleFunc("/page", handler)
	return r
}

func TestWithLogger_PropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	r := newRouter(t, &buf, func(w http.ResponseWriter, r *http.Request) {
		seen, _ = composables.UseRequestID(r.Context())
		composables.UseLogger(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/importer/api/rooms", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "req-42", seen)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
	require.Contains(t, buf.String(), `"request-id":"req-42"`)
	require.Contains(t, buf.String(), "inside handler")
	require.Contains(t, buf.String(), `"status-code":201`)
}

func TestWithLogger_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(t, &buf, func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Header().Get("X-Request-Id"), 36)
}

func TestWithLogger_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(t, &buf, func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/importer/api/rooms", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL_SERVER_ERROR")
	require.Contains(t, buf.String(), "panic recovered")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Internal Server Error")
}
