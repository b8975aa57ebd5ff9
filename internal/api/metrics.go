package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	scales   prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strata",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "strata",
			Name:      "generate_duration_seconds",
			Help:      "Wall time of decoding runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		scales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strata",
			Name:      "scales_decoded_total",
			Help:      "Pyramid scales decoded across all runs.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.scales,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
