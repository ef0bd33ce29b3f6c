// Package metrics exposes Prometheus collectors for the platform.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crowdgrid",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crowdgrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crowdgrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerDebits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crowdgrid",
			Subsystem: "ledger",
			Name:      "debits_total",
			Help:      "Total number of ledger debit attempts.",
		},
		[]string{"operation", "outcome"},
	)

	ledgerTokensDebited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crowdgrid",
			Subsystem: "ledger",
			Name:      "tokens_debited_total",
			Help:      "Sum of tokens successfully debited.",
		},
	)

	pathfindRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crowdgrid",
			Subsystem: "pathfind",
			Name:      "executions_total",
			Help:      "Total number of pathfinding executions.",
		},
		[]string{"found"},
	)

	pathfindDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crowdgrid",
			Subsystem: "pathfind",
			Name:      "execution_duration_seconds",
			Help:      "Duration of pathfinding executions.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	updateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crowdgrid",
			Subsystem: "updates",
			Name:      "decisions_total",
			Help:      "Total number of update request decisions processed.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerDebits,
		ledgerTokensDebited,
		pathfindRuns,
		pathfindDuration,
		updateDecisions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordDebit records a ledger debit attempt for the named operation.
func RecordDebit(operation string, amount float64, ok bool) {
	outcome := "rejected"
	if ok {
		outcome = "ok"
		ledgerTokensDebited.Add(amount)
	}
	ledgerDebits.WithLabelValues(operation, outcome).Inc()
}

// RecordPathfind records a pathfinding execution.
func RecordPathfind(found bool, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	pathfindRuns.WithLabelValues(strconv.FormatBool(found)).Inc()
	pathfindDuration.Observe(duration.Seconds())
}

// RecordDecision records one processed update decision by outcome
// (approved, rejected, or an error label).
func RecordDecision(outcome string) {
	updateDecisions.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource ids so metric labels stay low-cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "api":
		if len(parts) == 1 {
			return "/api"
		}
		parts = parts[1:]
	default:
		return "/" + parts[0]
	}

	switch parts[0] {
	case "models":
		if len(parts) == 1 {
			return "/api/models"
		}
		if len(parts) >= 3 {
			return "/api/models/:id/" + parts[2]
		}
		return "/api/models/:id"
	case "updates":
		if len(parts) >= 3 && parts[1] == "models" {
			if len(parts) >= 4 {
				return "/api/updates/models/:id/" + parts[3]
			}
			return "/api/updates/models/:id"
		}
		return "/api/updates/" + strings.Join(parts[1:], "/")
	default:
		return "/api/" + strings.Join(parts, "/")
	}
}
