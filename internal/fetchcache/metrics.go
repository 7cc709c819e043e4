package fetchcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citespider_cache_hits_total",
		Help: "Documents served from the on-disk cache, by service.",
	}, []string{"service"})
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citespider_cache_misses_total",
		Help: "Documents that required a network fetch, by service.",
	}, []string{"service"})
	fetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citespider_fetch_retries_total",
		Help: "Failed fetch attempts that were retried, by service.",
	}, []string{"service"})
)
