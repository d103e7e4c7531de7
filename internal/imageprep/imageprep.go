package imageprep

import (
	"bytes"
	"fmt"
	"image"

	"github.com/andresmejia3/portrait/internal/config"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/disintegration/imaging"
)

// Preparer bounds image size and normalizes encoding before upload.
type Preparer struct {
	MaxDimension int
	JPEGQuality  int
}

// Prepared is the normalized image plus its encoded upload form.
type Prepared struct {
	Image        *image.NRGBA
	Encoded      []byte
	SourceWidth  int
	SourceHeight int
}

func New(cfg config.ImageConfig) Preparer {
	return Preparer{MaxDimension: cfg.MaxDimension, JPEGQuality: cfg.JPEGQuality}
}

// Prepare decodes data (honoring EXIF orientation) and normalizes it.
func (p Preparer) Prepare(data []byte) (*Prepared, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &types.DecodeError{Err: err}
	}
	return p.PrepareImage(img)
}

// PrepareImage resizes img so that no side exceeds MaxDimension, drops any
// alpha channel and encodes the result as JPEG.
func (p Preparer) PrepareImage(img image.Image) (*Prepared, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, &types.DecodeError{Err: fmt.Errorf("empty image %dx%d", w, h)}
	}

	rw, rh := ScaledSize(w, h, p.MaxDimension)
	var out *image.NRGBA
	if rw == w && rh == h {
		out = imaging.Clone(img)
	} else {
		out = imaging.Resize(img, rw, rh, imaging.Lanczos)
	}
	opaque(out)

	encoded, err := EncodeJPEG(out, p.JPEGQuality)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Image:        out,
		Encoded:      encoded,
		SourceWidth:  w,
		SourceHeight: h,
	}, nil
}

// ScaledSize returns the dimensions after bounding the longer side to max.
// Images already within bounds are returned unchanged.
func ScaledSize(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w > h {
		return max, int(float64(h) * float64(max) / float64(w))
	}
	return int(float64(w) * float64(max) / float64(h)), max
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes img losslessly, preserving alpha.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// opaque forces every pixel's alpha to 255 in place.
func opaque(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
