package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOperationTransitionCounter(t *testing.T) {
	before := testutil.ToFloat64(operationTransitions.WithLabelValues("accepted"))
	OperationTransition("accepted")
	after := testutil.ToFloat64(operationTransitions.WithLabelValues("accepted"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, grew by %v", after-before)
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	Init()
	Init()

	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/operations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/operations/abc", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/operations/{id}", "418")); got != 1 {
		t.Fatalf("expected one request under route pattern, got %v", got)
	}

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "p2pdesk_http_requests_total") {
		t.Fatal("expected registered collector in exposition output")
	}
}

func TestWebsocketGauge(t *testing.T) {
	before := testutil.ToFloat64(wsClients)
	WebsocketClients(2)
	WebsocketClients(-1)
	if got := testutil.ToFloat64(wsClients) - before; got != 1 {
		t.Fatalf("expected gauge delta 1, got %v", got)
	}
}
