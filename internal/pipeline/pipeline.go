package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/portrait/internal/composite"
	"github.com/andresmejia3/portrait/internal/crop"
	"github.com/andresmejia3/portrait/internal/face"
	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/matting"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/disintegration/imaging"
)

// Outcome is the terminal state of one run. Only OutcomeComposited carries
// a portrait; the others are valid results, not failures.
type Outcome string

const (
	OutcomeComposited Outcome = "composited"
	OutcomeNoFace     Outcome = "no_face"
	OutcomeNoCrop     Outcome = "no_crop"
	OutcomeNoPortrait Outcome = "no_portrait"
	OutcomeRejected   Outcome = "rejected"
)

// Detector finds faces in an encoded image.
type Detector interface {
	Detect(ctx context.Context, image []byte, opts face.DetectOptions) ([]types.DetectedFace, error)
}

// Config is passed explicitly to every pipeline; nothing is read from globals.
type Config struct {
	Margins types.Margins
	Detect  face.DetectOptions
	Gate    crop.Gate
}

// DefaultConfig uses the default margins and detect options with no gate.
func DefaultConfig() Config {
	return Config{
		Margins: crop.DefaultMargins(),
		Detect:  face.DefaultDetectOptions(),
	}
}

// Request is one image to process. The caller owns scheduling and ids.
type Request struct {
	ID    string
	Image []byte
}

// Result describes what one run produced.
type Result struct {
	ID       string
	Outcome  Outcome
	Faces    []types.DetectedFace
	Face     *types.DetectedFace
	Region   types.CropRegion
	Width    int // prepared image width
	Height   int // prepared image height
	Mask     *image.Gray
	Portrait *image.NRGBA
	Reasons  []string

	// MattingErr is the service failure behind OutcomeNoPortrait.
	MattingErr error
}

// Pipeline runs prepare, detect, crop, matte and compose for one image.
// It holds no per-request state and is safe for concurrent use when its
// detector and provider are.
type Pipeline struct {
	cfg      Config
	preparer imageprep.Preparer
	detector Detector
	provider matting.Provider
	logger   *logger.Logger
}

func New(cfg Config, preparer imageprep.Preparer, detector Detector, provider matting.Provider, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		preparer: preparer,
		detector: detector,
		provider: provider,
		logger:   log,
	}
}

// Run processes req. Stage failures are returned wrapped with the stage
// name; terminal outcomes other than composited come back with a nil error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{ID: req.ID}
	timings := make(map[string]time.Duration, 5)
	total := time.Now()

	defer func() {
		if res.Outcome == "" {
			return
		}
		p.logger.Info("Pipeline run",
			"request_id", req.ID,
			"outcome", string(res.Outcome),
			"faces", len(res.Faces),
			"prepare", timings["prepare"],
			"detect", timings["detect"],
			"matte", timings["matte"],
			"compose", timings["compose"],
			"total", time.Since(total),
		)
	}()

	start := time.Now()
	prepared, err := p.preparer.Prepare(req.Image)
	timings["prepare"] = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	bounds := prepared.Image.Bounds()
	res.Width, res.Height = bounds.Dx(), bounds.Dy()

	start = time.Now()
	faces, err := p.detector.Detect(ctx, prepared.Encoded, p.cfg.Detect)
	timings["detect"] = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	res.Faces = faces
	if len(faces) == 0 {
		res.Outcome = OutcomeNoFace
		return res, nil
	}

	// first face in service order
	chosen := faces[0]
	res.Face = &chosen

	if reasons := p.cfg.Gate.Check(chosen.Attributes); len(reasons) > 0 {
		res.Reasons = reasons
		res.Outcome = OutcomeRejected
		return res, nil
	}

	res.Region = crop.Region(chosen.Box, p.cfg.Margins, res.Width, res.Height)
	if res.Region.Empty() {
		res.Outcome = OutcomeNoCrop
		return res, nil
	}
	cropped := imaging.Crop(prepared.Image, res.Region.Rect())

	start = time.Now()
	mask, err := p.provider.Matte(ctx, cropped)
	timings["matte"] = time.Since(start)
	if err != nil {
		var se *types.ServiceError
		if errors.As(err, &se) {
			res.MattingErr = err
			res.Outcome = OutcomeNoPortrait
			return res, nil
		}
		return nil, fmt.Errorf("matte: %w", err)
	}
	res.Mask = mask

	start = time.Now()
	portrait, err := composite.Compose(cropped, mask)
	timings["compose"] = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	res.Portrait = portrait
	res.Outcome = OutcomeComposited
	return res, nil
}
