package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wheelslip/internal/pipeline"
)

// metrics holds the collectors exported on /metrics. Each Server owns its
// registry so several servers can coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	runs      prometheus.Counter
	rejected  *prometheus.CounterVec
	slips     *prometheus.CounterVec
	diffLoads prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wheelslip",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wheelslip",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wheelslip",
			Name:      "analyzed_runs_total",
			Help:      "Telemetry files analyzed through the API.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wheelslip",
			Name:      "rejected_readings_total",
			Help:      "Rejected rows and wheel readings by reason.",
		}, []string{"reason"}),
		slips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wheelslip",
			Name:      "slip_events_total",
			Help:      "Detected slip events by wheel.",
		}, []string{"wheel"}),
		diffLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wheelslip",
			Name:      "diff_load_events_total",
			Help:      "Detected differential-load events.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.runs, m.rejected, m.slips, m.diffLoads,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observeRun records the counters of one analyzed file
func (m *metrics) observeRun(res pipeline.Result) {
	m.runs.Inc()
	for reason, n := range res.Diagnostics.Rejected {
		m.rejected.WithLabelValues(string(reason)).Add(float64(n))
	}
	for _, e := range res.Slips {
		m.slips.WithLabelValues(string(e.Wheel)).Inc()
	}
	m.diffLoads.Add(float64(len(res.DiffLoads)))
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
