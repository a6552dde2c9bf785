package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/users/{userID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	for _, path := range []string{"/users/1", "/users/2", "/ping"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	require.Contains(t, body, `lendflow_http_requests_total{code="418",route="/users/{userID}"} 2`)
	require.Contains(t, body, `lendflow_http_requests_total{code="200",route="/ping"} 1`)
	require.Contains(t, body, `lendflow_http_request_duration_seconds_bucket{route="/ping"`)
}

func TestMiddlewareOutsideRouter(t *testing.T) {
	m := NewMetrics()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw", nil))
	require.Contains(t, scrape(t, m), `lendflow_http_requests_total{code="204",route="unmatched"} 1`)
}

func TestWorkflowCountersExposed(t *testing.T) {
	m := NewMetrics()
	m.ObserveDenial("create", "TenantUser")
	m.ObserveTransition("CREATE_TENANT_USER", "APPROVED")
	m.ObserveExecution("CREATE_TENANT_USER", 10*time.Millisecond, errors.New("boom"))
	require.NoError(t, m.Track("pending_action:notify").End(nil))
	boom := errors.New("smtp down")
	require.ErrorIs(t, m.Track("pending_action:notify").End(boom), boom)

	body := scrape(t, m)
	for _, want := range []string{
		`lendflow_authz_denials_total{action="create",subject="TenantUser"} 1`,
		`lendflow_pending_action_transitions_total{action_type="CREATE_TENANT_USER",status="APPROVED"} 1`,
		`lendflow_pending_action_execution_seconds_count{action_type="CREATE_TENANT_USER",outcome="failure"} 1`,
		`lendflow_jobs_total{job="pending_action:notify",status="success"} 1`,
		`lendflow_jobs_total{job="pending_action:notify",status="failure"} 1`,
	} {
		require.Contains(t, body, want)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDenial("read", "Tenant")
	m.ObserveTransition("x", "y")
	m.ObserveExecution("x", time.Second, nil)
	require.NoError(t, m.Track("job").End(nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	called := false
	m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
}
