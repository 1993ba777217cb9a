package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshmap",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshmap",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// Tune buckets to your SLOs. This covers 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshmap",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshmap",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "meshmap",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	// ---- meshmap.Map series, fed through the Meshmap adapter below ----

	mapEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshmap",
			Name:      "entries",
			Help:      "Current number of entries held locally by a map context.",
		},
		[]string{"map"},
	)

	mapMembers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshmap",
			Name:      "members",
			Help:      "Current number of peers in a map context's membership.",
		},
		[]string{"map"},
	)

	roleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshmap",
			Name:      "role_transitions_total",
			Help:      "Count of entries transitioning into each role.",
		},
		[]string{"map", "role"},
	)

	replicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshmap",
			Name:      "replicate_total",
			Help:      "Count of replicate() calls by outcome.",
		},
		[]string{"map", "kind"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshmap",
			Name:      "rpc_duration_seconds",
			Help:      "Latency of map-protocol RPCs (state transfer, retrieve-backup, ping, broadcast).",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"map", "op"},
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight, buildInfo, uptime,
		mapEntries, mapMembers, roleTransitionsTotal, replicateTotal, rpcDuration,
	)
}

// Meshmap implements meshmap.Metrics over the series above, scoped to
// one map context name (so several Map instances sharing a process get
// distinct label values).
type Meshmap struct {
	mapName string
}

// NewMeshmap returns a meshmap.Metrics implementation reporting under
// the given map context name.
func NewMeshmap(mapName string) Meshmap {
	return Meshmap{mapName: mapName}
}

func (m Meshmap) SetEntries(n int) {
	mapEntries.WithLabelValues(m.mapName).Set(float64(n))
}

func (m Meshmap) SetMembers(n int) {
	mapMembers.WithLabelValues(m.mapName).Set(float64(n))
}

func (m Meshmap) IncRoleTransition(toRole string) {
	roleTransitionsTotal.WithLabelValues(m.mapName, toRole).Inc()
}

func (m Meshmap) IncReplicate(kind string) {
	replicateTotal.WithLabelValues(m.mapName, kind).Inc()
}

func (m Meshmap) ObserveRPC(op string, seconds float64) {
	rpcDuration.WithLabelValues(m.mapName, op).Observe(seconds)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.HandleFunc("/info", telemetry.Instrument("info", http.HandlerFunc(s.info)).ServeHTTP)
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
