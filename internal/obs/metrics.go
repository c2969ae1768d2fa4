package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики исходящих вызовов к IdP.
var (
	idpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idp_requests_total",
			Help: "Total number of outbound identity provider calls.",
		},
		[]string{"operation", "status"},
	)

	idpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idp_request_duration_seconds",
			Help:    "Outbound identity provider call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		idpRequestsTotal, idpRequestDuration,
	)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveIdPRequest records one outbound IdP call. status 0 means the call
// failed before a response arrived.
func ObserveIdPRequest(operation string, status int, d time.Duration) {
	idpRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	idpRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-resource path segments so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	if len(segments) >= 4 && segments[1] == "v1" && segments[2] == "accounts" {
		switch {
		case segments[3] == "subject" && len(segments) >= 5 && segments[4] != "":
			segments[4] = ":subject"
		case segments[3] != "" && segments[3] != "by-email":
			segments[3] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
