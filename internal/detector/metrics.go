package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analyzeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgery_analyze_total",
			Help: "Analyze calls by outcome (authentic, forged or the error kind)",
		},
		[]string{"outcome"},
	)

	analyzeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forgery_analyze_duration_seconds",
		Help:    "Analyze latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgery_verdict_cache_hits_total",
		Help: "Analyze calls answered from the verdict cache",
	})

	modelSwaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgery_model_swaps_total",
		Help: "Model snapshots published to inference",
	})
)
