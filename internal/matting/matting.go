package matting

import (
	"context"
	"image"
	"image/draw"
)

// Provider produces a foreground alpha mask for a cropped portrait. The mask
// has the same dimensions as crop; 255 is fully foreground.
type Provider interface {
	Matte(ctx context.Context, crop image.Image) (*image.Gray, error)
}

// toGray converts a matte image to a single channel rebased at the origin.
// Gray input is copied as-is; color input averages R, G and B.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if g, ok := img.(*image.Gray); ok {
		draw.Draw(out, out.Bounds(), g, b.Min, draw.Src)
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range row {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			row[x] = uint8(((r >> 8) + (g >> 8) + (bl >> 8)) / 3)
		}
	}
	return out
}
