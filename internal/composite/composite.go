package composite

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/portrait/internal/types"
	"github.com/disintegration/imaging"
)

// Compose returns img with its alpha channel replaced by mask. Color values
// are copied unchanged; only alpha comes from the mask.
func Compose(img image.Image, mask *image.Gray) (*image.NRGBA, error) {
	if mask == nil {
		return nil, fmt.Errorf("compose: %w: mask is nil", types.ErrDimensionMismatch)
	}
	ib, mb := img.Bounds(), mask.Bounds()
	if ib.Dx() != mb.Dx() || ib.Dy() != mb.Dy() {
		return nil, fmt.Errorf("compose: %w: image %dx%d, mask %dx%d",
			types.ErrDimensionMismatch, ib.Dx(), ib.Dy(), mb.Dx(), mb.Dy())
	}

	// Clone rebases to the origin and gives non-premultiplied color.
	out := imaging.Clone(img)
	w, h := ib.Dx(), ib.Dy()
	for y := 0; y < h; y++ {
		mo := mask.PixOffset(mb.Min.X, mb.Min.Y+y)
		mrow := mask.Pix[mo : mo+w]
		orow := out.Pix[y*out.Stride : y*out.Stride+w*4]
		for x := 0; x < w; x++ {
			orow[x*4+3] = mrow[x]
		}
	}
	return out, nil
}

// Flatten blends img over a solid background, producing an opaque image
// suitable for formats without alpha.
func Flatten(img image.Image, bg color.Color) *image.NRGBA {
	src := imaging.Clone(img)
	c := color.NRGBAModel.Convert(bg).(color.NRGBA)
	out := image.NewNRGBA(src.Bounds())

	for i := 0; i < len(src.Pix); i += 4 {
		a := uint32(src.Pix[i+3])
		out.Pix[i+0] = blend(src.Pix[i+0], c.R, a)
		out.Pix[i+1] = blend(src.Pix[i+1], c.G, a)
		out.Pix[i+2] = blend(src.Pix[i+2], c.B, a)
		out.Pix[i+3] = 0xff
	}
	return out
}

func blend(fg, bg uint8, a uint32) uint8 {
	return uint8((uint32(fg)*a + uint32(bg)*(255-a) + 127) / 255)
}
