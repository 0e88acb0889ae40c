// Package imaging turns encoded image bytes into model-ready tensors and
// computes Error Level Analysis rasters.
package imaging

import (
	"fmt"

	"github.com/Brownie44l1/forgery-api/internal/errs"
)

// Tensor is a single image in height × width × channel (NHWC without N) layout.
type Tensor struct {
	H, W, C int
	Data    []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(h, w, c int) Tensor {
	return Tensor{H: h, W: w, C: c, Data: make([]float32, h*w*c)}
}

// Shape returns the tensor shape with a leading batch dimension of 1.
func (t Tensor) Shape() []int64 {
	return []int64{1, int64(t.H), int64(t.W), int64(t.C)}
}

// At returns the value at (y, x, c).
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.W+x)*t.C+c]
}

// CheckShape fails with a shape_mismatch error unless t is h × w × c and fully populated.
func (t Tensor) CheckShape(h, w, c int) error {
	if t.H != h || t.W != w || t.C != c || len(t.Data) != h*w*c {
		return errs.E(errs.KindShapeMismatch, "tensor",
			fmt.Errorf("expected %dx%dx%d, got %dx%dx%d (%d values)", h, w, c, t.H, t.W, t.C, len(t.Data)))
	}
	return nil
}

// Normalization maps a raw 0..255 channel value v to (v - Mean) / Scale.
type Normalization struct {
	Mean  [3]float32 `json:"mean"`
	Scale [3]float32 `json:"scale"`
}

var (
	// NormResNetV2 maps pixels into [-1, 1].
	NormResNetV2 = Normalization{
		Mean:  [3]float32{127.5, 127.5, 127.5},
		Scale: [3]float32{127.5, 127.5, 127.5},
	}

	// NormImageNet applies per-channel ImageNet mean/std on the 0..255 scale.
	NormImageNet = Normalization{
		Mean:  [3]float32{123.675, 116.28, 103.53},
		Scale: [3]float32{58.395, 57.12, 57.375},
	}

	// NormUnit maps pixels into [0, 1].
	NormUnit = Normalization{
		Mean:  [3]float32{0, 0, 0},
		Scale: [3]float32{255, 255, 255},
	}
)

// NormalizationByName resolves a normalization preset.
func NormalizationByName(name string) (Normalization, error) {
	switch name {
	case "", "resnet_v2":
		return NormResNetV2, nil
	case "imagenet":
		return NormImageNet, nil
	case "unit":
		return NormUnit, nil
	default:
		return Normalization{}, errs.Errorf(errs.KindInvalidArgument, "normalization", "unknown preset %q", name)
	}
}
