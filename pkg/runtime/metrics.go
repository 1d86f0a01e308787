package runtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/peep-runtime/pkg/metrics"
)

var (
	stopsTotal   *prometheus.CounterVec
	panicsTotal  *prometheus.CounterVec
	metricsSetup sync.Once
)

func initMetrics() {
	metricsSetup.Do(func() {
		stopsTotal = metrics.CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peep",
			Subsystem: "runtime",
			Name:      "stops_total",
			Help:      "Terminal statuses broadcast by the lifecycle controller",
		}, []string{"reason"}))
		panicsTotal = metrics.CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peep",
			Subsystem: "runtime",
			Name:      "user_code_panics_total",
			Help:      "Panics caught at the user code boundary",
		}, []string{"phase"}))
	})
}

func recordStop(reason string) {
	initMetrics()
	stopsTotal.WithLabelValues(reason).Inc()
}

func recordPanic(phase string, err error) {
	if _, ok := err.(*PanicError); !ok {
		return
	}
	initMetrics()
	panicsTotal.WithLabelValues(phase).Inc()
}
