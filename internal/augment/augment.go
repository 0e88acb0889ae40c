// Package augment applies random geometric transforms to training rasters.
package augment

import (
	"image"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Params describes one concrete transform.
type Params struct {
	Flip bool
	// Angle is the rotation in radians, counter-clockwise.
	Angle float64
	// Zoom scales about the image center; 1 is unchanged.
	Zoom float64
}

// Identity reports whether p leaves an image unchanged.
func (p Params) Identity() bool {
	return !p.Flip && p.Angle == 0 && (p.Zoom == 1 || p.Zoom == 0)
}

// Policy draws a random flip, rotation and zoom per sample. It is safe for
// concurrent use; draws are serialized so a fixed seed gives a fixed sequence.
type Policy struct {
	// FlipProb is the probability of a horizontal flip.
	FlipProb float64
	// RotationFactor bounds the rotation to ±RotationFactor of a full turn.
	RotationFactor float64
	// ZoomFactor bounds the zoom to 1±ZoomFactor.
	ZoomFactor float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy returns the default policy: flip p=0.5, rotation ±0.1 turn, zoom ±10%.
func NewPolicy(seed int64) *Policy {
	return &Policy{
		FlipProb:       0.5,
		RotationFactor: 0.1,
		ZoomFactor:     0.1,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// Sample draws the parameters for one image.
func (p *Policy) Sample() Params {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Params{
		Flip:  p.rng.Float64() < p.FlipProb,
		Angle: (p.rng.Float64()*2 - 1) * p.RotationFactor * 2 * math.Pi,
		Zoom:  1 + (p.rng.Float64()*2-1)*p.ZoomFactor,
	}
}

// Augment returns a batch where every raster has been independently
// transformed when training is true. With training false the batch is
// returned as is. Input rasters are never modified.
func (p *Policy) Augment(batch []*image.RGBA, training bool) []*image.RGBA {
	if !training {
		return batch
	}
	out := make([]*image.RGBA, len(batch))
	for i, img := range batch {
		out[i] = Apply(img, p.Sample())
	}
	return out
}

// Apply transforms img about its center. Destination pixels that fall outside
// the transformed source keep the untransformed source value.
func Apply(img *image.RGBA, params Params) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	if params.Identity() {
		return dst
	}

	zoom := params.Zoom
	if zoom == 0 {
		zoom = 1
	}
	fx := 1.0
	if params.Flip {
		fx = -1
	}

	cos, sin := math.Cos(params.Angle), math.Sin(params.Angle)
	a00, a01 := zoom*cos*fx, -zoom*sin
	a10, a11 := zoom*sin*fx, zoom*cos

	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	dcx, dcy := float64(b.Dx())/2, float64(b.Dy())/2

	s2d := f64.Aff3{
		a00, a01, dcx - a00*cx - a01*cy,
		a10, a11, dcy - a10*cx - a11*cy,
	}
	draw.BiLinear.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}
