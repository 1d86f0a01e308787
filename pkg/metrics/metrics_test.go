package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCounterVecReusesRegisteredCollector(t *testing.T) {
	opts := prometheus.CounterOpts{Namespace: "peep", Subsystem: "test", Name: "reuse_total", Help: "test"}
	first := CounterVec(prometheus.NewCounterVec(opts, []string{"kind"}))
	second := CounterVec(prometheus.NewCounterVec(opts, []string{"kind"}))
	if first != second {
		t.Fatalf("expected second registration to return the existing collector")
	}
}

func TestHistogramVecReusesRegisteredCollector(t *testing.T) {
	opts := prometheus.HistogramOpts{Namespace: "peep", Subsystem: "test", Name: "reuse_seconds", Help: "test", Buckets: HistogramBuckets}
	first := HistogramVec(prometheus.NewHistogramVec(opts, []string{"route"}))
	second := HistogramVec(prometheus.NewHistogramVec(opts, []string{"route"}))
	if first != second {
		t.Fatalf("expected second registration to return the existing collector")
	}
}

func TestCounterReusesRegisteredCollector(t *testing.T) {
	opts := prometheus.CounterOpts{Namespace: "peep", Subsystem: "test", Name: "single_total", Help: "test"}
	first := Counter(prometheus.NewCounter(opts))
	second := Counter(prometheus.NewCounter(opts))
	if first != second {
		t.Fatalf("expected second registration to return the existing collector")
	}
}
