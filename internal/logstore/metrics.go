package logstore

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/peep-runtime/pkg/metrics"
)

var (
	metricsOnce    sync.Once
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	linesStored    *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		requestTotal = metrics.CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peep",
			Subsystem: "logstore",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}))

		requestLatency = metrics.HistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "peep",
			Subsystem: "logstore",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   metrics.HistogramBuckets,
		}, []string{"method", "route", "status"}))

		rateLimitHits = metrics.CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peep",
			Subsystem: "logstore",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited log uploads",
		}, []string{"route"}))

		linesStored = metrics.CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peep",
			Subsystem: "logstore",
			Name:      "lines_stored_total",
			Help:      "Number of stored log lines",
		}, []string{}))
	})
}

// instrument records request counts and latency labelled by chi route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)

		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": req.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		requestTotal.With(labels).Inc()
		requestLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

func recordRateLimitHit(route string) {
	initMetrics()
	rateLimitHits.WithLabelValues(route).Inc()
}

func recordStored(n int) {
	initMetrics()
	linesStored.WithLabelValues().Add(float64(n))
}
