package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	candidatesTotal            *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	activeRuns                 prometheus.Gauge
	windowRates                *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. It is safe to call more than
// once.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadstorm_contact_fetches_total",
				Help: "Website contact fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadstorm_candidates_total",
				Help: "Candidates processed by runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadstorm_runs_total",
				Help: "Finished runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadstorm_active_runs",
				Help: "Number of runs currently executing.",
			},
		)

		windowRates = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leadstorm_window_rate",
				Help: "Rates over the alert lookback window, labeled by kind.",
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler exposing the registered metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch counts one contact page fetch.
func ObserveFetch(outcome string) {
	Init()
	fetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCandidate counts one processed candidate.
func ObserveCandidate(outcome string) {
	Init()
	candidatesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun counts a run reaching a terminal status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// SetWindowRates publishes the rates the alerter evaluates.
func SetWindowRates(snap *MetricsSnapshot) {
	Init()
	windowRates.WithLabelValues(string(AlertRunFailureRate)).Set(snap.RunFailRate)
	windowRates.WithLabelValues(string(AlertNoEmailRate)).Set(snap.NoEmailRate)
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
