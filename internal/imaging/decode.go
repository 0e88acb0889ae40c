package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/Brownie44l1/forgery-api/internal/errs"
)

// MaxPixels caps the declared raster size Decode accepts. Headers are checked
// before any pixel data is allocated.
const MaxPixels = 64 << 20

// Decode parses JPEG or PNG bytes. Any failure is a decode_error.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errs.E(errs.KindDecode, "decode", fmt.Errorf("empty input"))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", errs.E(errs.KindDecode, "decode", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", errs.Errorf(errs.KindDecode, "decode", "image is %dx%d, above the %d pixel limit", cfg.Width, cfg.Height, MaxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errs.E(errs.KindDecode, "decode", err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", errs.E(errs.KindDecode, "decode", fmt.Errorf("image has no pixels"))
	}
	return img, format, nil
}

// ToRGBA copies img into a fresh *image.RGBA anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return dst
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
