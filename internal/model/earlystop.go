package model

import "math"

// EarlyStopping tracks a metric where larger is better and signals a stop
// once it has not strictly improved for Patience consecutive epochs.
type EarlyStopping struct {
	Patience int

	best      float64
	bestEpoch int
	wait      int
}

// NewEarlyStopping returns a tracker with the given patience.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience, best: math.Inf(-1)}
}

// Observe records the metric for epoch and reports whether it improved on
// the best so far and whether training should stop.
func (e *EarlyStopping) Observe(epoch int, metric float64) (improved, stop bool) {
	if metric > e.best {
		e.best = metric
		e.bestEpoch = epoch
		e.wait = 0
		return true, false
	}
	e.wait++
	return false, e.Patience > 0 && e.wait >= e.Patience
}

// Best returns the best metric seen.
func (e *EarlyStopping) Best() float64 { return e.best }

// BestEpoch returns the epoch of the best metric, 0 if none was observed.
func (e *EarlyStopping) BestEpoch() int { return e.bestEpoch }
