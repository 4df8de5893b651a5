package mst

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mst")

var nodesLoaded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mst_nodes_loaded",
	Help: "Number of tree nodes read from the blockstore",
})

var nodesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mst_nodes_written",
	Help: "Number of tree nodes written to the blockstore",
})

var diffDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "mst_diff_duration_seconds",
	Help:    "Time taken to diff two trees",
	Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
})

var diffOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mst_diff_ops",
	Help: "Number of changed keys found by tree diffs",
}, []string{"op"})
