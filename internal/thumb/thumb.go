// Package thumb generates JPEG thumbnails from stored media.
package thumb

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// DefaultWidth matches the grid cell size the front-ends render.
const DefaultWidth = 400

// Make decodes data (PNG, JPEG, or first GIF frame), scales it to the
// given width preserving aspect ratio, and returns it JPEG-encoded.
// Images already narrower than width are re-encoded unscaled.
func Make(data []byte, width int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("thumb: decode: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dx() > width {
		height := bounds.Dy() * width / bounds.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("thumb: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions returns the pixel size of an encoded image without decoding
// the full bitmap.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("thumb: decode config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
