package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/tremor/internal/bus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tremor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tremor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tremor_runs_total",
			Help: "Total number of finished analysis runs by terminal status",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tremor_run_duration_seconds",
			Help:    "Wall-clock duration of finished analysis runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tremor_active_runs",
			Help: "Number of currently running analyses",
		},
	)

	fieldsScoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tremor_fields_scored_total",
			Help: "Total number of scored fields by timeframe class and outcome",
		},
		[]string{"timeframe", "confirmed"},
	)

	vetoesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tremor_vetoes_total",
			Help: "Total number of triggered veto rules",
		},
		[]string{"rule"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tremor_decisions_total",
			Help: "Total number of combined decisions by strategy",
		},
		[]string{"strategy"},
	)

	regOnce sync.Once
)

// Metrics exposes the Prometheus surface: an HTTP middleware for request
// metrics and bus subscriptions that count pipeline outcomes. The pipeline
// itself never touches Prometheus; everything arrives via published events.
type Metrics struct{}

// NewMetrics registers the collectors once and subscribes the pipeline
// counters to the bus.
func NewMetrics(b *bus.Bus) *Metrics {
	regOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			runsTotal,
			runDuration,
			activeRuns,
			fieldsScoredTotal,
			vetoesTotal,
			decisionsTotal,
		)
	})

	m := &Metrics{}
	b.Subscribe(bus.RunStarted, func(bus.Event) {
		activeRuns.Inc()
	})
	b.Subscribe(bus.RunFinished, func(ev bus.Event) {
		activeRuns.Dec()
		if data, ok := ev.Data.(*bus.RunFinishedData); ok {
			runsTotal.WithLabelValues(string(data.Status)).Inc()
			runDuration.Observe(data.Elapsed)
		}
	})
	b.Subscribe(bus.FieldScored, func(ev bus.Event) {
		if data, ok := ev.Data.(*bus.FieldScoredData); ok {
			fieldsScoredTotal.WithLabelValues(data.Timeframe, strconv.FormatBool(data.Confirmed)).Inc()
		}
	})
	b.Subscribe(bus.VetoRaised, func(ev bus.Event) {
		if data, ok := ev.Data.(*bus.VetoRaisedData); ok {
			for _, f := range data.Flags {
				if f.Triggered {
					vetoesTotal.WithLabelValues(string(f.Rule)).Inc()
				}
			}
		}
	})
	b.Subscribe(bus.DecisionMade, func(ev bus.Event) {
		if data, ok := ev.Data.(*bus.DecisionData); ok {
			for _, d := range data.Decisions {
				decisionsTotal.WithLabelValues(string(d.Strategy)).Inc()
			}
		}
	})
	return m
}

// Handler returns the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per templated route, so path
// parameters never blow up label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
