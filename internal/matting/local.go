package matting

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// ModelSize is the square input and output resolution of the segmentation model.
const ModelSize = 1024

var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Session runs one forward pass. Input is a (1,3,ModelSize,ModelSize) CHW
// tensor and output a (1,1,ModelSize,ModelSize) tensor of logits.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Local computes mattes with an on-device segmentation model.
type Local struct {
	session Session
	workers int
}

// NewLocal wraps session. workers bounds preprocessing parallelism; zero
// means one per CPU.
func NewLocal(session Session, workers int) *Local {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Local{session: session, workers: workers}
}

// Matte resizes crop to the model resolution, runs inference and scales the
// normalized prediction back to the crop size.
func (l *Local) Matte(ctx context.Context, crop image.Image) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := crop.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("local matting: empty crop")
	}

	input := preprocess(crop, l.workers)
	logits, err := l.session.Run(input)
	if err != nil {
		return nil, fmt.Errorf("local inference: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(logits) != ModelSize*ModelSize {
		return nil, fmt.Errorf("local inference: output has %d values, want %d", len(logits), ModelSize*ModelSize)
	}

	return postprocess(logits, b.Dx(), b.Dy()), nil
}

// Close releases the underlying session.
func (l *Local) Close() error {
	return l.session.Close()
}

// preprocess resizes img to ModelSize, divides by the brightest channel value
// and standardizes each channel, producing a CHW tensor.
func preprocess(img image.Image, workers int) []float32 {
	resized := imaging.Resize(img, ModelSize, ModelSize, imaging.Lanczos)

	var peak uint8
	for i := 0; i < len(resized.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			if v := resized.Pix[i+c]; v > peak {
				peak = v
			}
		}
	}
	// a black image must not divide by zero
	scale := float32(peak)
	if scale < 1 {
		scale = 1
	}

	var lut [3][256]float32
	for c := 0; c < 3; c++ {
		for v := 0; v < 256; v++ {
			lut[c][v] = (float32(v)/scale - channelMean[c]) / channelStd[c]
		}
	}

	const plane = ModelSize * ModelSize
	out := make([]float32, 3*plane)

	rows := make(chan int, ModelSize)
	for y := 0; y < ModelSize; y++ {
		rows <- y
	}
	close(rows)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rows {
				src := resized.Pix[y*resized.Stride : y*resized.Stride+ModelSize*4]
				base := y * ModelSize
				for x := 0; x < ModelSize; x++ {
					p := src[x*4 : x*4+3]
					out[base+x] = lut[0][p[0]]
					out[plane+base+x] = lut[1][p[1]]
					out[2*plane+base+x] = lut[2][p[2]]
				}
			}
		}()
	}
	wg.Wait()
	return out
}

// postprocess applies a sigmoid, stretches the result to the full 0..255
// range and resizes it to w x h. A constant prediction keeps its raw
// probability since there is no range to stretch.
func postprocess(logits []float32, w, h int) *image.Gray {
	probs := make([]float64, len(logits))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range logits {
		p := 1 / (1 + math.Exp(-float64(v)))
		probs[i] = p
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}

	mask := image.NewGray(image.Rect(0, 0, ModelSize, ModelSize))
	span := hi - lo
	for i, p := range probs {
		if span > 0 {
			p = (p - lo) / span
		}
		mask.Pix[i] = uint8(p * 255)
	}

	if w == ModelSize && h == ModelSize {
		return mask
	}

	// nearest neighbour keeps every output value inside the stretched set
	resized := imaging.Resize(mask, w, h, imaging.NearestNeighbor)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i := range out.Pix {
		out.Pix[i] = resized.Pix[i*4]
	}
	return out
}
