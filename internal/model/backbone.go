// Package model holds the forgery classifier: a frozen feature-extracting
// backbone with a small trainable head.
package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
)

// Backbone is a frozen feature extractor. Implementations never change their
// weights after construction and must be safe for concurrent use.
type Backbone interface {
	// Name identifies the backbone and its weights; it is stored in model artifacts.
	Name() string
	// InputSize is the square input resolution.
	InputSize() int
	Normalization() imaging.Normalization
	// FeatureShape is the height, width and channel count of the feature map.
	FeatureShape() (h, w, c int)
	// Extract returns the feature map for t in HWC order.
	Extract(t imaging.Tensor) ([]float32, error)
	Close() error
}

// ProjectionConfig parameterizes ProjectionBackbone.
type ProjectionConfig struct {
	InputSize int
	// Grid is the number of patches per side; it is also the feature map size.
	Grid int
	// Cells is the number of pooled cells per patch side.
	Cells    int
	Channels int
	Seed     int64
}

// DefaultProjectionConfig maps 224×224 inputs to a 7×7×64 feature map.
func DefaultProjectionConfig() ProjectionConfig {
	return ProjectionConfig{InputSize: imaging.DefaultImageSize, Grid: 7, Cells: 4, Channels: 64, Seed: 42}
}

// ProjectionBackbone is a deterministic pure-Go extractor. Each patch of the
// input is average-pooled into Cells×Cells cells and projected through a
// seeded random matrix followed by a ReLU. It stands in for a pretrained
// network when no ONNX runtime is available.
type ProjectionBackbone struct {
	cfg  ProjectionConfig
	norm imaging.Normalization
	w    *mat.Dense
	bias []float64
}

// NewProjectionBackbone builds the projection weights from cfg.Seed.
func NewProjectionBackbone(cfg ProjectionConfig) (*ProjectionBackbone, error) {
	if cfg.Grid <= 0 || cfg.Cells <= 0 || cfg.Channels <= 0 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "projection", "grid, cells and channels must be positive")
	}
	if cfg.InputSize <= 0 || cfg.InputSize%(cfg.Grid*cfg.Cells) != 0 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "projection",
			"input size %d is not a multiple of grid×cells (%d)", cfg.InputSize, cfg.Grid*cfg.Cells)
	}

	in := cfg.Cells * cfg.Cells * 3
	rng := rand.New(rand.NewSource(cfg.Seed))
	w := mat.NewDense(in, cfg.Channels, nil)
	scale := 1 / float64(in)
	for i := 0; i < in; i++ {
		for j := 0; j < cfg.Channels; j++ {
			w.Set(i, j, rng.NormFloat64()*scale*4)
		}
	}
	bias := make([]float64, cfg.Channels)
	for j := range bias {
		bias[j] = rng.NormFloat64() * 0.1
	}

	return &ProjectionBackbone{cfg: cfg, norm: imaging.NormResNetV2, w: w, bias: bias}, nil
}

func (p *ProjectionBackbone) Name() string {
	return fmt.Sprintf("projection-v1:size=%d:grid=%d:cells=%d:channels=%d:seed=%d",
		p.cfg.InputSize, p.cfg.Grid, p.cfg.Cells, p.cfg.Channels, p.cfg.Seed)
}

func (p *ProjectionBackbone) InputSize() int { return p.cfg.InputSize }

func (p *ProjectionBackbone) Normalization() imaging.Normalization { return p.norm }

func (p *ProjectionBackbone) FeatureShape() (int, int, int) {
	return p.cfg.Grid, p.cfg.Grid, p.cfg.Channels
}

func (p *ProjectionBackbone) Extract(t imaging.Tensor) ([]float32, error) {
	size := p.cfg.InputSize
	if err := t.CheckShape(size, size, 3); err != nil {
		return nil, err
	}

	grid, cells := p.cfg.Grid, p.cfg.Cells
	cellPx := size / (grid * cells)
	patchPx := cellPx * cells
	in := cells * cells * 3

	// One row per patch, one column per (cell, channel).
	pooled := mat.NewDense(grid*grid, in, nil)
	raw := pooled.RawMatrix()
	inv := 1 / float64(cellPx*cellPx)

	for y := 0; y < size; y++ {
		gy, cy := y/patchPx, (y%patchPx)/cellPx
		for x := 0; x < size; x++ {
			gx, cx := x/patchPx, (x%patchPx)/cellPx
			row := raw.Data[(gy*grid+gx)*raw.Stride:]
			col := (cy*cells + cx) * 3
			px := t.Data[(y*size+x)*3:]
			row[col] += float64(px[0]) * inv
			row[col+1] += float64(px[1]) * inv
			row[col+2] += float64(px[2]) * inv
		}
	}

	var proj mat.Dense
	proj.Mul(pooled, p.w)

	out := make([]float32, grid*grid*p.cfg.Channels)
	for i := 0; i < grid*grid; i++ {
		for j := 0; j < p.cfg.Channels; j++ {
			v := proj.At(i, j) + p.bias[j]
			if v > 0 {
				out[i*p.cfg.Channels+j] = float32(v)
			}
		}
	}
	return out, nil
}

func (p *ProjectionBackbone) Close() error { return nil }
