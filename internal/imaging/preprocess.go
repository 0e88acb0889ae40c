package imaging

import (
	"image"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/forgery-api/internal/errs"
)

// DefaultImageSize is the square input resolution of the backbone.
const DefaultImageSize = 224

var filters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"lanczos3": resize.Lanczos3,
}

// Preprocessor resizes images to the backbone resolution and normalizes them.
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	size   int
	filter resize.InterpolationFunction
	norm   Normalization
}

// NewPreprocessor returns a preprocessor producing size × size × 3 tensors.
// filter is one of nearest, bilinear, bicubic or lanczos3 (default).
func NewPreprocessor(size int, filter string, norm Normalization) (*Preprocessor, error) {
	if size <= 0 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "preprocessor", "size must be positive, got %d", size)
	}
	if filter == "" {
		filter = "lanczos3"
	}
	interp, ok := filters[filter]
	if !ok {
		return nil, errs.Errorf(errs.KindInvalidArgument, "preprocessor", "unknown resampling filter %q", filter)
	}
	for _, s := range norm.Scale {
		if s == 0 {
			return nil, errs.Errorf(errs.KindInvalidArgument, "preprocessor", "normalization scale must be non-zero")
		}
	}
	return &Preprocessor{size: size, filter: interp, norm: norm}, nil
}

// Size is the edge length of the produced raster.
func (p *Preprocessor) Size() int {
	return p.size
}

// Normalization returns the channel normalization applied by ToTensor.
func (p *Preprocessor) Normalization() Normalization {
	return p.norm
}

// Resize scales img to size × size and returns it as RGBA.
func (p *Preprocessor) Resize(img image.Image) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == p.size && b.Dy() == p.size {
		return ToRGBA(img)
	}
	return ToRGBA(resize.Resize(uint(p.size), uint(p.size), img, p.filter))
}

// ToTensor converts a size × size raster into a normalized float tensor.
func (p *Preprocessor) ToTensor(img *image.RGBA) (Tensor, error) {
	b := img.Bounds()
	if b.Dx() != p.size || b.Dy() != p.size {
		return Tensor{}, errs.Errorf(errs.KindShapeMismatch, "to_tensor",
			"raster is %dx%d, want %dx%d", b.Dx(), b.Dy(), p.size, p.size)
	}

	t := NewTensor(p.size, p.size, 3)
	var inv [3]float32
	for c := range inv {
		inv[c] = 1 / p.norm.Scale[c]
	}
	m := p.norm.Mean

	o := 0
	for y := 0; y < p.size; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+p.size*4]
		for i := 0; i < len(row); i += 4 {
			t.Data[o] = (float32(row[i]) - m[0]) * inv[0]
			t.Data[o+1] = (float32(row[i+1]) - m[1]) * inv[1]
			t.Data[o+2] = (float32(row[i+2]) - m[2]) * inv[2]
			o += 3
		}
	}
	return t, nil
}

// Normalize resizes and normalizes img in one step.
func (p *Preprocessor) Normalize(img image.Image) (Tensor, error) {
	return p.ToTensor(p.Resize(img))
}

// NormalizeBytes decodes data and normalizes it. A decode failure never
// yields a partial tensor.
func (p *Preprocessor) NormalizeBytes(data []byte) (Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return Tensor{}, err
	}
	return p.Normalize(img)
}
