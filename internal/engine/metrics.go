package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	articlesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citespider_articles_created_total",
		Help: "Articles ingested into the graph store.",
	})
	chainsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citespider_chains_recorded_total",
		Help: "Citation chains persisted, including additional paths to known articles.",
	})
	cyclesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citespider_cycles_rejected_total",
		Help: "Discovery paths discarded because they would revisit an article.",
	})
	itemsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citespider_items_dropped_total",
		Help: "Frontier items dropped after unrecoverable per-item failures.",
	})
)
