package crop

import (
	"math"

	"github.com/andresmejia3/portrait/internal/types"
)

// DefaultMargins frames head and shoulders: three quarters of a face height
// above and below, one and a half face widths to each side.
func DefaultMargins() types.Margins {
	return types.Margins{Top: 0.75, Bottom: 0.75, Left: 1.5, Right: 1.5}
}

// Region expands face by m and clamps the result to the image. A region that
// collapses after clamping is returned as the zero value.
func Region(face types.FaceBox, m types.Margins, imageWidth, imageHeight int) types.CropRegion {
	l, t := float64(face.Left), float64(face.Top)
	w, h := float64(face.Width), float64(face.Height)

	r := types.CropRegion{
		Left:   clamp(int(l-w*m.Left), imageWidth),
		Top:    clamp(int(t-h*m.Top), imageHeight),
		Right:  clamp(int(l+w+w*m.Right), imageWidth),
		Bottom: clamp(int(t+h+h*m.Bottom), imageHeight),
	}
	if r.Empty() {
		return types.CropRegion{}
	}
	return r
}

// Enlarge grows face symmetrically around its centre by factor. The origin
// is clamped at zero and the size is limited to what remains of the image.
func Enlarge(face types.FaceBox, factor float64, imageWidth, imageHeight int) types.CropRegion {
	left := math.Max(0, float64(face.Left)-float64(face.Width)*(factor-1)/2)
	top := math.Max(0, float64(face.Top)-float64(face.Height)*(factor-1)/2)
	width := math.Min(float64(imageWidth)-left, float64(face.Width)*factor)
	height := math.Min(float64(imageHeight)-top, float64(face.Height)*factor)

	r := types.CropRegion{Left: int(left), Top: int(top)}
	r.Right = clamp(r.Left+int(width), imageWidth)
	r.Bottom = clamp(r.Top+int(height), imageHeight)
	if r.Empty() {
		return types.CropRegion{}
	}
	return r
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
