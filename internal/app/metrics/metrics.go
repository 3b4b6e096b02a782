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
			Namespace: "trust_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trust_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trust_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	sessionsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trust_layer",
			Subsystem: "sessions",
			Name:      "issued_total",
			Help:      "Total number of sessions issued.",
		},
	)

	mints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trust_layer",
			Subsystem: "ledger",
			Name:      "mints_total",
			Help:      "Total number of trust token mint attempts.",
		},
		[]string{"outcome"},
	)

	interactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trust_layer",
			Subsystem: "ledger",
			Name:      "interactions_total",
			Help:      "Total number of recorded trust interactions.",
		},
		[]string{"kind", "verified"},
	)

	mirrorWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trust_layer",
			Subsystem: "mirror",
			Name:      "writes_total",
			Help:      "Total number of mirror write attempts.",
		},
		[]string{"backend", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		sessionsIssued,
		mints,
		interactions,
		mirrorWrites,
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

// RecordSessionIssued counts an issued session.
func RecordSessionIssued() {
	sessionsIssued.Inc()
}

// RecordMint counts a mint attempt by outcome.
func RecordMint(outcome string) {
	mints.WithLabelValues(outcome).Inc()
}

// RecordInteraction counts a recorded interaction.
func RecordInteraction(kind string, verified bool) {
	interactions.WithLabelValues(kind, strconv.FormatBool(verified)).Inc()
}

// RecordMirrorWrite counts a mirror write attempt by outcome.
func RecordMirrorWrite(backend string, success bool) {
	outcome := "error"
	if success {
		outcome = "ok"
	}
	mirrorWrites.WithLabelValues(backend, outcome).Inc()
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

// canonicalPath collapses per-subject path segments so label cardinality
// stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")

	switch parts[0] {
	case "api":
		if len(parts) < 2 {
			return "/api"
		}
		// The final segment on GET routes is a subject or user id.
		switch {
		case len(parts) >= 3 && parts[1] == "legal" && parts[2] == "status":
			return "/api/legal/status/:id"
		case len(parts) >= 3 && parts[1] == "account" && parts[2] == "profile":
			return "/api/account/profile/:id"
		case len(parts) >= 3 && parts[1] == "nft" && parts[2] == "requirements":
			return "/api/nft/requirements/:id"
		case parts[1] == "trust-score" && len(parts) == 3 && parts[2] != "interaction":
			return "/api/trust-score/:id"
		}
		return "/" + strings.Join(parts, "/")
	case "admin", "ws":
		return "/" + strings.Join(parts, "/")
	default:
		return "/" + parts[0]
	}
}
