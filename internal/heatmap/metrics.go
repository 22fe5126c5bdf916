package heatmap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll cycle outcomes recorded per render.
const (
	outcomeData           = "data"
	outcomeEmpty          = "empty"
	outcomePayloadError   = "payload_error"
	outcomeTransportError = "transport_error"
)

var (
	pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmdash",
		Subsystem: "heatmap",
		Name:      "poll_cycles_total",
		Help:      "Fetch-render cycles by terminal outcome.",
	}, []string{"outcome"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "llmdash",
		Subsystem: "heatmap",
		Name:      "poll_duration_seconds",
		Help:      "Wall time of one fetch-render cycle.",
		Buckets:   prometheus.DefBuckets,
	})
)
