package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		backendRequestsTotal == nil || backendDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveBackendCall(t *testing.T) {
	Init()

	before := testutil.ToFloat64(backendRequestsTotal.WithLabelValues("login", "error"))
	ObserveBackendCall("login", 0, 10*time.Millisecond)
	ObserveBackendCall("login", http.StatusOK, 10*time.Millisecond)

	if val := testutil.ToFloat64(backendRequestsTotal.WithLabelValues("login", "error")); val != before+1 {
		t.Errorf("expected transport failures to be labeled error, got %f", val)
	}
	if val := testutil.ToFloat64(backendRequestsTotal.WithLabelValues("login", "200")); val < 1 {
		t.Errorf("expected a 200 observation, got %f", val)
	}
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/studios", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Delete("/studios/{studio_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "200"))
	errBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "500"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/studios", nil),
		httptest.NewRequest(http.MethodDelete, "/studios/abc", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "200")); val != okBefore+1 {
		t.Errorf("expected POST 200 count to grow by 1, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "500")); val != errBefore+1 {
		t.Errorf("expected DELETE 500 count to grow by 1, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected httpRequestDurationSeconds to be observed, got %d", val)
	}
	if val := testutil.ToFloat64(httpRequestsInFlight); val != 0 {
		t.Errorf("expected no requests in flight, got %f", val)
	}
}
