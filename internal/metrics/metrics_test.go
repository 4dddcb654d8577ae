package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

func TestMetrics_CountersAndGauges(t *testing.T) {
	pending := 3.0
	m := New("book-1", Gauges{
		Pending:         func() float64 { return pending },
		OracleConnected: func() float64 { return 1 },
	})

	m.Emit(lifecycle.Event{Kind: lifecycle.EventAvatarCreated})
	m.Emit(lifecycle.Event{Kind: lifecycle.EventAvatarCreated})
	m.Emit(lifecycle.Event{Kind: lifecycle.EventTransfer})
	m.ObserveFulfill("")
	m.ObserveFulfill("E_UNKNOWN_REQUEST")
	m.ObserveSnapshot(nil)
	m.ObserveSnapshot(errors.New("disk full"))

	if got := testutil.ToFloat64(m.events.WithLabelValues("book-1", "AVATAR_CREATED")); got != 2 {
		t.Fatalf("created events=%v", got)
	}
	if got := testutil.ToFloat64(m.fulfills.WithLabelValues("book-1", "ok")); got != 1 {
		t.Fatalf("ok fulfills=%v", got)
	}
	if got := testutil.ToFloat64(m.snapshots.WithLabelValues("book-1", "error")); got != 1 {
		t.Fatalf("snapshot errors=%v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`aob_book_pending_requests{book="book-1"} 3`,
		`aob_oracle_connected{book="book-1"} 1`,
		`aob_oracle_fulfillments_total{book="book-1",code="E_UNKNOWN_REQUEST"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("scrape missing %q", want)
		}
	}
	if strings.Contains(string(body), "aob_events_observers") {
		t.Fatalf("nil gauge func must not be registered")
	}
}

func TestMetrics_InstrumentUsesRoutePattern(t *testing.T) {
	m := New("b", Gauges{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/avatars/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Instrument(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/avatars/7", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/avatars/8", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "GET /v1/avatars/{id}", "404")); got != 2 {
		t.Fatalf("route counter=%v", got)
	}
}
