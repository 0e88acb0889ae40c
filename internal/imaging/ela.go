package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"runtime"
	"sync"

	"github.com/Brownie44l1/forgery-api/internal/errs"
)

// ELA computes Error Level Analysis rasters: the input is re-encoded at two
// JPEG qualities and the amplified per-channel difference is returned.
type ELA struct {
	LowQuality  int
	HighQuality int
	Scale       int
	// Workers bounds the number of row bands processed in parallel. Zero means GOMAXPROCS.
	Workers int
}

// DefaultELA re-encodes at qualities 90 and 95 and amplifies by 10.
func DefaultELA() ELA {
	return ELA{LowQuality: 90, HighQuality: 95, Scale: 10}
}

func (e ELA) validate() error {
	for _, q := range []int{e.LowQuality, e.HighQuality} {
		if q < 1 || q > 100 {
			return errs.Errorf(errs.KindInvalidArgument, "ela", "jpeg quality %d out of range 1..100", q)
		}
	}
	if e.Scale < 1 {
		return errs.Errorf(errs.KindInvalidArgument, "ela", "scale must be positive, got %d", e.Scale)
	}
	return nil
}

// Compute returns an RGBA image with the same dimensions as img whose
// channels hold min(|c_low - c_high| * Scale, 255). Alpha is opaque.
func (e ELA) Compute(img image.Image) (*image.RGBA, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errs.E(errs.KindDecode, "ela", fmt.Errorf("image has no pixels"))
	}

	low, err := reencode(img, e.LowQuality)
	if err != nil {
		return nil, err
	}
	high, err := reencode(img, e.HighQuality)
	if err != nil {
		return nil, err
	}

	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	lut := amplifyTable(e.Scale)

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	rows := b.Dy()
	band := (rows + workers - 1) / workers

	var wg sync.WaitGroup
	for y0 := 0; y0 < rows; y0 += band {
		y1 := min(y0+band, rows)
		wg.Add(1)
		go func() {
			defer wg.Done()
			lo, hi := y0*out.Stride, y1*out.Stride
			amplifyDiff(out.Pix[lo:hi], low.Pix[lo:hi], high.Pix[lo:hi], &lut)
		}()
	}
	wg.Wait()

	return out, nil
}

// reencode round-trips img through the JPEG codec at the given quality.
func reencode(img image.Image, quality int) (*image.RGBA, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errs.E(errs.KindDecode, "ela", fmt.Errorf("failed to encode at quality %d: %w", quality, err))
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, errs.E(errs.KindDecode, "ela", fmt.Errorf("failed to decode quality %d: %w", quality, err))
	}
	return ToRGBA(decoded), nil
}

// amplifyTable maps a signed channel difference d (indexed d+255) to min(|d|*scale, 255).
func amplifyTable(scale int) [511]uint8 {
	var lut [511]uint8
	for d := -255; d <= 255; d++ {
		v := d
		if v < 0 {
			v = -v
		}
		lut[d+255] = uint8(min(v*scale, 255))
	}
	return lut
}

// amplifyDiff writes the amplified difference of two RGBA buffers into dst.
func amplifyDiff(dst, a, b []uint8, lut *[511]uint8) {
	for i := 0; i+3 < len(dst); i += 4 {
		dst[i] = lut[int(a[i])-int(b[i])+255]
		dst[i+1] = lut[int(a[i+1])-int(b[i+1])+255]
		dst[i+2] = lut[int(a[i+2])-int(b[i+2])+255]
		dst[i+3] = 0xff
	}
}
