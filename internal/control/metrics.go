package control

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/peep-runtime/pkg/metrics"
)

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = metrics.CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peep",
			Subsystem: "runtime_control",
			Name:      "http_requests_total",
			Help:      "Count of processed control requests",
		}, []string{"method", "route", "status"}))

		r.requestDuration = metrics.HistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "peep",
			Subsystem: "runtime_control",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of control handlers",
			Buckets:   metrics.HistogramBuckets,
		}, []string{"method", "route", "status"}))

		r.subscriptions = metrics.GaugeVec(prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peep",
			Subsystem: "runtime_control",
			Name:      "active_streams",
			Help:      "Open log and stop streams",
		}, []string{"stream"}))
		r.metricsInitialized = true
	})
}

func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.metricsInitialized {
			next(w, req)
			return
		}
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": req.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		r.requestTotal.With(labels).Inc()
		r.requestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

func (r *Router) trackStream(stream string) func() {
	if !r.metricsInitialized {
		return func() {}
	}
	g := r.subscriptions.WithLabelValues(stream)
	g.Inc()
	return g.Dec
}
