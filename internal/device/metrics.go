package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_reduce_cpu_pool_hits_total",
		Help: "Total number of successful tensor pool retrievals",
	}, []string{"dtype"})

	poolMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_reduce_cpu_pool_misses_total",
		Help: "Total number of tensor pool misses (allocations)",
	}, []string{"dtype"})

	reductionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_reduce_reductions_total",
		Help: "Total number of completed reductions",
	}, []string{"op", "in_dtype", "out_dtype"})

	reductionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longbow_reduce_kernel_duration_seconds",
		Help:    "Time spent in reduction kernels",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"op", "strategy"})

	positionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_reduce_positions_total",
		Help: "Total number of output positions written",
	})
)
