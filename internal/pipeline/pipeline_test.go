package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/andresmejia3/portrait/internal/crop"
	"github.com/andresmejia3/portrait/internal/face"
	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	faces []types.DetectedFace
	err   error
	got   []byte
}

func (s *stubDetector) Detect(ctx context.Context, img []byte, opts face.DetectOptions) ([]types.DetectedFace, error) {
	s.got = img
	return s.faces, s.err
}

// stubMatter returns a mask of the crop size filled with one value, or a
// mask of a fixed wrong size when off is set.
type stubMatter struct {
	value uint8
	off   int
	err   error
	calls int
}

func (s *stubMatter) Matte(ctx context.Context, crop image.Image) (*image.Gray, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	b := crop.Bounds()
	m := image.NewGray(image.Rect(0, 0, b.Dx()+s.off, b.Dy()))
	for i := range m.Pix {
		m.Pix[i] = s.value
	}
	return m, nil
}

func encodedImage(t *testing.T, w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 120, 80, 40, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(cfg Config, d Detector, m *stubMatter) *Pipeline {
	return New(cfg, imageprep.Preparer{MaxDimension: 1920, JPEGQuality: 95}, d, m, logger.NewNop())
}

func TestRunComposites(t *testing.T) {
	det := &stubDetector{faces: []types.DetectedFace{
		{Box: types.FaceBox{Left: 100, Top: 100, Width: 50, Height: 50}},
		{Box: types.FaceBox{Left: 600, Top: 600, Width: 80, Height: 80}},
	}}
	matter := &stubMatter{value: 180}
	p := newTestPipeline(DefaultConfig(), det, matter)

	res, err := p.Run(context.Background(), Request{ID: "req-1", Image: encodedImage(t, 1000, 1000)})
	require.NoError(t, err)

	assert.Equal(t, OutcomeComposited, res.Outcome)
	assert.Equal(t, "req-1", res.ID)
	assert.Len(t, res.Faces, 2)
	assert.Equal(t, 100, res.Face.Box.Left, "first face is used")
	assert.Equal(t, types.CropRegion{Left: 25, Top: 62, Right: 225, Bottom: 187}, res.Region)
	require.NotNil(t, res.Portrait)
	assert.Equal(t, image.Rect(0, 0, 200, 125), res.Portrait.Bounds())
	assert.Equal(t, uint8(180), res.Portrait.NRGBAAt(10, 10).A)
	assert.NotEmpty(t, det.got, "detector receives the prepared JPEG")
}

func TestRunResizesBeforeDetect(t *testing.T) {
	det := &stubDetector{faces: []types.DetectedFace{}}
	p := New(DefaultConfig(), imageprep.Preparer{MaxDimension: 100, JPEGQuality: 90}, det, &stubMatter{}, nil)

	res, err := p.Run(context.Background(), Request{Image: encodedImage(t, 400, 200)})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 50, res.Height)
}

func TestRunTerminalOutcomes(t *testing.T) {
	covered := &types.FaceAttributes{Mask: &types.Mask{NoseAndMouthCovered: true}}

	tests := []struct {
		name      string
		cfg       Config
		faces     []types.DetectedFace
		matterErr error
		want      Outcome
		matted    bool
	}{
		{
			name:  "no face",
			cfg:   DefaultConfig(),
			faces: nil,
			want:  OutcomeNoFace,
		},
		{
			name:  "face outside image yields no crop",
			cfg:   DefaultConfig(),
			faces: []types.DetectedFace{{Box: types.FaceBox{Left: 5000, Top: 5000, Width: 10, Height: 10}}},
			want:  OutcomeNoCrop,
		},
		{
			name: "gate rejects",
			cfg: Config{
				Margins: crop.DefaultMargins(),
				Detect:  face.DefaultDetectOptions(),
				Gate:    crop.Gate{RejectCoveredFace: true},
			},
			faces: []types.DetectedFace{{Box: types.FaceBox{Left: 10, Top: 10, Width: 20, Height: 20}, Attributes: covered}},
			want:  OutcomeRejected,
		},
		{
			name:      "matting service failure",
			cfg:       DefaultConfig(),
			faces:     []types.DetectedFace{{Box: types.FaceBox{Left: 10, Top: 10, Width: 20, Height: 20}}},
			matterErr: &types.ServiceError{Service: "matting", StatusCode: 400},
			want:      OutcomeNoPortrait,
			matted:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matter := &stubMatter{err: tt.matterErr}
			p := newTestPipeline(tt.cfg, &stubDetector{faces: tt.faces}, matter)

			res, err := p.Run(context.Background(), Request{Image: encodedImage(t, 200, 200)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Nil(t, res.Portrait)
			assert.Equal(t, tt.matted, matter.calls > 0)
			if tt.want == OutcomeRejected {
				assert.NotEmpty(t, res.Reasons)
			}
			if tt.want == OutcomeNoPortrait {
				assert.Error(t, res.MattingErr)
			}
		})
	}
}

func TestRunStageErrors(t *testing.T) {
	oneFace := []types.DetectedFace{{Box: types.FaceBox{Left: 10, Top: 10, Width: 20, Height: 20}}}

	t.Run("decode", func(t *testing.T) {
		p := newTestPipeline(DefaultConfig(), &stubDetector{}, &stubMatter{})
		_, err := p.Run(context.Background(), Request{Image: []byte("garbage")})
		assert.ErrorIs(t, err, types.ErrDecode)
	})

	t.Run("detect transient", func(t *testing.T) {
		det := &stubDetector{err: &types.TransientError{Service: "face", StatusCode: 429}}
		_, err := newTestPipeline(DefaultConfig(), det, &stubMatter{}).Run(context.Background(), Request{Image: encodedImage(t, 50, 50)})
		var te *types.TransientError
		assert.True(t, errors.As(err, &te))
	})

	t.Run("local inference", func(t *testing.T) {
		boom := errors.New("session crashed")
		_, err := newTestPipeline(DefaultConfig(), &stubDetector{faces: oneFace}, &stubMatter{err: boom}).
			Run(context.Background(), Request{Image: encodedImage(t, 50, 50)})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("mask size mismatch", func(t *testing.T) {
		_, err := newTestPipeline(DefaultConfig(), &stubDetector{faces: oneFace}, &stubMatter{off: 1}).
			Run(context.Background(), Request{Image: encodedImage(t, 50, 50)})
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	})
}
