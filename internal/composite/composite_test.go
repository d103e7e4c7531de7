package composite

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/portrait/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 10), uint8(y * 10), 77, 255})
		}
	}
	return img
}

func TestCompose(t *testing.T) {
	img := gradient(4, 3)
	mask := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range mask.Pix {
		mask.Pix[i] = uint8(i * 20)
	}

	out, err := Compose(img, mask)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), out.Bounds())

	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			got := out.NRGBAAt(x, y)
			want := img.NRGBAAt(x, y)
			assert.Equal(t, want.R, got.R)
			assert.Equal(t, want.G, got.G)
			assert.Equal(t, want.B, got.B)
			assert.Equal(t, mask.GrayAt(x, y).Y, got.A)
		}
	}

	// input untouched
	assert.Equal(t, uint8(255), img.NRGBAAt(0, 0).A)
}

func TestComposeOffsetBounds(t *testing.T) {
	img := gradient(10, 10).SubImage(image.Rect(2, 2, 6, 5))
	mask := image.NewGray(image.Rect(0, 0, 4, 3))
	mask.Pix[0] = 9

	out, err := Compose(img, mask)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), out.Bounds())
	assert.Equal(t, uint8(9), out.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(20), out.NRGBAAt(0, 0).R)
}

func TestComposeDimensionMismatch(t *testing.T) {
	tests := []struct {
		name string
		mask *image.Gray
	}{
		{"one column short", image.NewGray(image.Rect(0, 0, 3, 3))},
		{"one row extra", image.NewGray(image.Rect(0, 0, 4, 4))},
		{"nil mask", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(gradient(4, 3), tt.mask)
			assert.True(t, errors.Is(err, types.ErrDimensionMismatch), "got %v", err)
		})
	}
}

func TestFlatten(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{200, 100, 0, 255})
	img.SetNRGBA(1, 0, color.NRGBA{200, 100, 0, 0})

	out := Flatten(img, color.White)
	assert.Equal(t, color.NRGBA{200, 100, 0, 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(1, 0))
}
