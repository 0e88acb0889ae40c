package training

import (
	"image"
	"iter"
	"math/rand"

	"github.com/Brownie44l1/forgery-api/internal/augment"
	"github.com/Brownie44l1/forgery-api/internal/dataset"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
	"github.com/Brownie44l1/forgery-api/internal/model"
)

// pipeline turns a dataset into normalized batches for Fit. Training
// pipelines reshuffle every epoch and run each batch through the
// augmentation policy; validation pipelines keep dataset order.
type pipeline struct {
	samples   []dataset.Sample
	pre       *imaging.Preprocessor
	policy    *augment.Policy
	batchSize int
	buffer    int
	seed      int64
	training  bool
}

var _ model.BatchSource = (*pipeline)(nil)

func (p *pipeline) Batches(epoch int) iter.Seq2[model.Batch, error] {
	return func(yield func(model.Batch, error) bool) {
		order := make([]int, len(p.samples))
		for i := range order {
			order[i] = i
		}
		if p.training {
			order = bufferedShuffle(len(p.samples), p.buffer, rand.New(rand.NewSource(p.seed+int64(epoch))))
		}

		for start := 0; start < len(order); start += p.batchSize {
			end := min(start+p.batchSize, len(order))

			rasters := make([]*image.RGBA, 0, end-start)
			labels := make([]float64, 0, end-start)
			for _, i := range order[start:end] {
				rasters = append(rasters, p.samples[i].Raster)
				labels = append(labels, float64(p.samples[i].Label))
			}
			if p.policy != nil {
				rasters = p.policy.Augment(rasters, p.training)
			}

			batch := model.Batch{Inputs: make([]imaging.Tensor, len(rasters)), Labels: labels}
			for i, r := range rasters {
				t, err := p.pre.ToTensor(r)
				if err != nil {
					yield(model.Batch{}, err)
					return
				}
				batch.Inputs[i] = t
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// bufferedShuffle returns a permutation of [0, n) produced by streaming the
// indices through a shuffle buffer of the given size. A buffer of at least n
// gives a uniform shuffle; smaller buffers only mix nearby elements.
func bufferedShuffle(n, buffer int, rng *rand.Rand) []int {
	if buffer <= 0 {
		buffer = 1
	}
	order := make([]int, 0, n)
	buf := make([]int, 0, min(buffer, n))
	next := 0
	for next < n && len(buf) < buffer {
		buf = append(buf, next)
		next++
	}
	for len(buf) > 0 {
		i := rng.Intn(len(buf))
		order = append(order, buf[i])
		if next < n {
			buf[i] = next
			next++
			continue
		}
		buf[i] = buf[len(buf)-1]
		buf = buf[:len(buf)-1]
	}
	return order
}
