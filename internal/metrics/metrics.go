// Package metrics exposes the book's Prometheus collectors. Counters are fed
// from book events and transport callbacks; gauges are read on scrape.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daibi/Avatar-Oracle-Book/internal/sim/lifecycle"
)

const namespace = "aob"

// Gauges are sampled on every scrape. Nil funcs are skipped.
type Gauges struct {
	Seq             func() float64
	TotalCreated    func() float64
	Pending         func() float64
	OracleConnected func() float64
	Observers       func() float64
	IndexQueueDepth func() float64
	IndexDropped    func() float64
}

type Metrics struct {
	reg  *prometheus.Registry
	book string

	events       *prometheus.CounterVec
	fulfills     *prometheus.CounterVec
	snapshots    *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(bookID string, g Gauges) *Metrics {
	m := &Metrics{
		reg:  prometheus.NewRegistry(),
		book: bookID,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "events_total",
			Help:      "Committed book events by kind.",
		}, []string{"book", "kind"}),
		fulfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "fulfillments_total",
			Help:      "Randomness fulfillments by outcome code (ok on success).",
		}, []string{"book", "code"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "snapshots_total",
			Help:      "Snapshot writes by result.",
		}, []string{"book", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.reg.MustRegister(m.events, m.fulfills, m.snapshots, m.httpRequests, m.httpDuration)
	m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	labels := prometheus.Labels{"book": bookID}
	gauge := func(subsystem, name, help string, f func() float64) {
		if f == nil {
			return
		}
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, f))
	}
	gauge("book", "seq", "Sequence number of the last committed event.", g.Seq)
	gauge("book", "avatars_created", "Avatars minted so far.", g.TotalCreated)
	gauge("book", "pending_requests", "Randomness requests awaiting fulfillment.", g.Pending)
	gauge("oracle", "connected", "1 when an oracle session is attached.", g.OracleConnected)
	gauge("events", "observers", "Connected event stream observers.", g.Observers)
	gauge("index", "queue_depth", "Index writer backlog.", g.IndexQueueDepth)
	gauge("index", "dropped", "Index writes dropped because the queue was full.", g.IndexDropped)
	return m
}

// Emit counts committed events. It is a lifecycle.Sink.
func (m *Metrics) Emit(e lifecycle.Event) {
	m.events.WithLabelValues(m.book, string(e.Kind)).Inc()
}

// ObserveFulfill records one fulfillment outcome; an empty code is success.
func (m *Metrics) ObserveFulfill(code string) {
	if code == "" {
		code = "ok"
	}
	m.fulfills.WithLabelValues(m.book, code).Inc()
}

func (m *Metrics) ObserveSnapshot(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshots.WithLabelValues(m.book, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Instrument wraps an HTTP handler served by a ServeMux and labels requests
// with the matched route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		m.httpRequests.WithLabelValues(r.Method, route, status).Inc()
		m.httpDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
