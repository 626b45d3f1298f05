package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_reduce_cache_hits_total",
		Help: "Total number of result cache hits",
	})

	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_reduce_cache_misses_total",
		Help: "Total number of result cache misses",
	})

	collisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_reduce_cache_collisions_total",
		Help: "Total number of lookups whose digest matched an entry of another request",
	})

	evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_reduce_cache_evictions_total",
		Help: "Total number of result cache evictions",
	})

	size = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longbow_reduce_cache_entries",
		Help: "Current number of cached results",
	})
)
