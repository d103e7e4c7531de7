package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/portrait/internal/face"
	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each fake file is an image whose width selects how the fake detector answers.
const (
	widthOneFace  = 40
	widthNoFace   = 48
	widthTwoFaces = 56
	widthConflict = 64
)

func pngOfWidth(w int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, 32))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type fakeDetector struct {
	mu            sync.Mutex
	conflictsLeft int // conflicts returned for widthConflict before succeeding; -1 means forever

	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (f *fakeDetector) Detect(ctx context.Context, img []byte, opts face.DetectOptions) ([]types.DetectedFace, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	one := types.DetectedFace{Box: types.FaceBox{Left: 10, Top: 10, Width: 10, Height: 10}}

	switch cfg.Width {
	case widthNoFace:
		return []types.DetectedFace{}, nil
	case widthTwoFaces:
		return []types.DetectedFace{one, one}, nil
	case widthConflict:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.conflictsLeft != 0 {
			if f.conflictsLeft > 0 {
				f.conflictsLeft--
			}
			return nil, &types.TransientError{Service: "face", StatusCode: 409, Code: types.CodeConcurrentOperationConflict}
		}
		return []types.DetectedFace{one}, nil
	default:
		return []types.DetectedFace{one}, nil
	}
}

func newTestBatch(det *fakeDetector, cfg BatchConfig, files map[string][]byte) *Batch {
	b := NewBatch(det, imageprep.Preparer{MaxDimension: 1920, JPEGQuality: 90}, cfg, nil)
	b.readFile = func(path string) ([]byte, error) {
		data, ok := files[path]
		if !ok {
			return nil, fmt.Errorf("open %s: no such file", path)
		}
		return data, nil
	}
	return b
}

func collect(t *testing.T, b *Batch, paths []string) (map[string]Outcome, Summary) {
	t.Helper()
	got := make(map[string]Outcome)
	sum, err := b.Run(context.Background(), paths, func(o Outcome) {
		if _, dup := got[o.Path]; dup {
			t.Errorf("duplicate outcome for %s", o.Path)
		}
		got[o.Path] = o
	})
	require.NoError(t, err)
	return got, sum
}

func TestRunClassifiesItems(t *testing.T) {
	files := map[string][]byte{
		"one.jpg":  pngOfWidth(widthOneFace),
		"none.jpg": pngOfWidth(widthNoFace),
		"two.jpg":  pngOfWidth(widthTwoFaces),
		"bad.jpg":  []byte("not an image"),
	}
	paths := []string{"one.jpg", "none.jpg", "two.jpg", "bad.jpg", "missing.jpg"}

	got, sum := collect(t, newTestBatch(&fakeDetector{}, BatchConfig{Workers: 2, EnlargeFactor: 1.5}, files), paths)

	require.Len(t, got, len(paths))
	assert.Equal(t, StatusAccepted, got["one.jpg"].Status)
	assert.Equal(t, StatusInvalid, got["none.jpg"].Status)
	assert.Equal(t, StatusInvalid, got["two.jpg"].Status)
	assert.Equal(t, 2, got["two.jpg"].Faces)
	assert.Equal(t, StatusFailed, got["bad.jpg"].Status)
	assert.ErrorIs(t, got["bad.jpg"].Err, types.ErrDecode)
	assert.Equal(t, StatusFailed, got["missing.jpg"].Status)

	accepted := got["one.jpg"]
	require.NotNil(t, accepted.Face)
	assert.Equal(t, types.CropRegion{Left: 7, Top: 7, Right: 22, Bottom: 22}, accepted.Target)
	assert.Equal(t, widthOneFace, accepted.Width)

	assert.Equal(t, Summary{Total: 5, Accepted: 1, Invalid: 2, Failed: 2}, sum)
}

func TestRunRequeuesConflicts(t *testing.T) {
	files := map[string][]byte{
		"busy.jpg": pngOfWidth(widthConflict),
		"one.jpg":  pngOfWidth(widthOneFace),
	}
	det := &fakeDetector{conflictsLeft: 2}
	b := newTestBatch(det, BatchConfig{Workers: 1, MaxConflictRetries: 3}, files)

	got, sum := collect(t, b, []string{"busy.jpg", "one.jpg"})

	assert.Equal(t, StatusAccepted, got["busy.jpg"].Status)
	assert.Equal(t, 3, got["busy.jpg"].Attempts)
	assert.Equal(t, int64(2), sum.Retries)
	assert.Equal(t, int64(2), sum.Accepted)
	assert.Equal(t, int32(4), det.calls.Load())
}

func TestRunGivesUpAfterMaxConflictRetries(t *testing.T) {
	files := map[string][]byte{"busy.jpg": pngOfWidth(widthConflict)}
	det := &fakeDetector{conflictsLeft: -1}
	b := newTestBatch(det, BatchConfig{Workers: 2, MaxConflictRetries: 3}, files)

	got, sum := collect(t, b, []string{"busy.jpg"})

	out := got["busy.jpg"]
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, types.ErrRetriesExhausted)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, int64(3), sum.Retries)
	assert.Equal(t, int64(1), sum.Failed)
}

func TestRunBoundsConcurrency(t *testing.T) {
	files := make(map[string][]byte)
	var paths []string
	for i := 0; i < 12; i++ {
		p := fmt.Sprintf("img-%02d.jpg", i)
		files[p] = pngOfWidth(widthOneFace)
		paths = append(paths, p)
	}
	det := &fakeDetector{delay: 10 * time.Millisecond}

	got, sum := collect(t, newTestBatch(det, BatchConfig{Workers: 3}, files), paths)

	assert.Len(t, got, 12)
	assert.Equal(t, int64(12), sum.Accepted)
	assert.LessOrEqual(t, det.maxSeen.Load(), int32(3))
}

func TestRunCancelled(t *testing.T) {
	files := make(map[string][]byte)
	var paths []string
	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("img-%02d.jpg", i)
		files[p] = pngOfWidth(widthOneFace)
		paths = append(paths, p)
	}
	det := &fakeDetector{delay: 20 * time.Millisecond}
	b := newTestBatch(det, BatchConfig{Workers: 2}, files)

	ctx, cancel := context.WithCancel(context.Background())
	reported := 0
	sum, err := b.Run(ctx, paths, func(Outcome) {
		reported++
		if reported == 2 {
			cancel()
		}
	})

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, reported, len(paths))
	assert.Equal(t, int64(reported), sum.Accepted+sum.Invalid+sum.Failed)
}

func TestRunRateLimited(t *testing.T) {
	files := map[string][]byte{
		"a.jpg": pngOfWidth(widthOneFace),
		"b.jpg": pngOfWidth(widthOneFace),
		"c.jpg": pngOfWidth(widthOneFace),
	}
	b := newTestBatch(&fakeDetector{}, BatchConfig{Workers: 3, RequestsPerSecond: 20}, files)

	start := time.Now()
	_, sum := collect(t, b, []string{"a.jpg", "b.jpg", "c.jpg"})

	assert.Equal(t, int64(3), sum.Accepted)
	// burst of one, then 50ms per token
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestListUsesConfiguredExtensions(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.jpg", "b.png", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0644))
	}

	b := NewBatch(&fakeDetector{}, imageprep.Preparer{}, BatchConfig{Extensions: []string{".png"}}, nil)
	paths, err := b.List(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "b.png")}, paths)
}
