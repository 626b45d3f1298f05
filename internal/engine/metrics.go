package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_reduce_requests_total",
		Help: "Total number of reduction requests by outcome",
	}, []string{"op", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longbow_reduce_request_duration_seconds",
		Help:    "Time spent serving reduction requests, including admission",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	inflightBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longbow_reduce_inflight_bytes",
		Help: "Bytes held by admitted requests",
	})

	verifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_reduce_verify_failures_total",
		Help: "Total number of results that differed from the reference",
	}, []string{"op"})
)
