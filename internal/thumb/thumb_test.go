package thumb

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMake_ScalesDownPreservingAspect(t *testing.T) {
	t.Parallel()

	out, err := Make(encodePNG(t, 800, 600), 400)
	require.NoError(t, err)

	w, h, err := Dimensions(out)
	require.NoError(t, err)
	require.Equal(t, 400, w)
	require.Equal(t, 300, h)
}

func TestMake_KeepsSmallImagesUnscaled(t *testing.T) {
	t.Parallel()

	out, err := Make(encodePNG(t, 200, 100), 400)
	require.NoError(t, err)

	w, h, err := Dimensions(out)
	require.NoError(t, err)
	require.Equal(t, 200, w)
	require.Equal(t, 100, h)
}

func TestMake_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Make([]byte("not an image"), 400)
	require.Error(t, err)
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	w, h, err := Dimensions(encodePNG(t, 123, 45))
	require.NoError(t, err)
	require.Equal(t, 123, w)
	require.Equal(t, 45, h)
}
