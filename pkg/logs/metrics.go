package logs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/peep-runtime/pkg/metrics"
)

type pipelineCollectors struct {
	batches *prometheus.CounterVec
	lines   prometheus.Counter
}

var (
	collectors     *pipelineCollectors
	collectorsOnce sync.Once
)

func pipelineMetrics() *pipelineCollectors {
	collectorsOnce.Do(func() {
		collectors = &pipelineCollectors{
			batches: metrics.CounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peep",
				Subsystem: "runtime_logs",
				Name:      "batches_total",
				Help:      "Log batches handed to the sink by outcome",
			}, []string{"outcome"})),
			lines: metrics.Counter(prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "peep",
				Subsystem: "runtime_logs",
				Name:      "lines_stored_total",
				Help:      "Log lines accepted by the log sink",
			})),
		}
	})
	return collectors
}
