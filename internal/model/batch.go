package model

import (
	"iter"

	"github.com/Brownie44l1/forgery-api/internal/imaging"
)

// Batch is a group of normalized inputs with labels in {0, 1}.
type Batch struct {
	Inputs []imaging.Tensor
	Labels []float64
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Inputs)
}

// BatchSource yields the batches of one epoch. Sources may reshuffle or
// augment per epoch; epoch is 1-based.
type BatchSource interface {
	Batches(epoch int) iter.Seq2[Batch, error]
}

// StaticBatches yields the same batches every epoch.
type StaticBatches []Batch

func (s StaticBatches) Batches(int) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for _, b := range s {
			if !yield(b, nil) {
				return
			}
		}
	}
}
