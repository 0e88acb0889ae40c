package training

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgery_training_runs_total",
			Help: "Training runs by final state",
		},
		[]string{"state"},
	)

	epochsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgery_training_epochs_total",
		Help: "Completed training epochs",
	})

	skippedFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgery_training_skipped_files_total",
		Help: "Dataset files skipped because they could not be decoded",
	})

	valAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forgery_training_val_accuracy",
		Help: "Validation accuracy of the most recent epoch",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forgery_training_run_duration_seconds",
		Help:    "Wall time of training runs",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)
