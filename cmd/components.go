package cmd

import (
	"fmt"

	"github.com/andresmejia3/portrait/internal/config"
	"github.com/andresmejia3/portrait/internal/crop"
	"github.com/andresmejia3/portrait/internal/face"
	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/matting"
	"github.com/andresmejia3/portrait/internal/pipeline"
	"github.com/andresmejia3/portrait/internal/source"
	"github.com/andresmejia3/portrait/internal/types"
)

// detectOptions builds the detect call options from the face config.
func detectOptions(cfg *config.Config) (face.DetectOptions, error) {
	attrs, err := face.ParseAttributes(cfg.Face.Attributes)
	if err != nil {
		return face.DetectOptions{}, err
	}
	return face.DetectOptions{
		DetectionModel:   cfg.Face.DetectionModel,
		RecognitionModel: cfg.Face.RecognitionModel,
		ReturnFaceID:     cfg.Face.ReturnFaceID,
		Attributes:       attrs,
		ReturnLandmarks:  cfg.Face.ReturnLandmarks,
	}, nil
}

func newDetector(cfg *config.Config) (*face.Client, error) {
	if err := cfg.RequireFace(); err != nil {
		return nil, err
	}
	return face.NewClient(face.ClientConfig{
		Endpoint:   cfg.Face.Endpoint,
		APIKey:     cfg.Face.APIKey,
		APIVersion: cfg.Face.APIVersion,
		Timeout:    cfg.Face.Timeout,
	}, Log), nil
}

// newProvider returns the configured matting backend and a cleanup func.
// backend overrides cfg.Matting.Backend when non-empty.
func newProvider(cfg *config.Config, backend string) (matting.Provider, func(), error) {
	if backend != "" {
		cfg.Matting.Backend = backend
	}
	if err := cfg.RequireMatting(); err != nil {
		return nil, nil, err
	}

	switch cfg.Matting.Backend {
	case "local":
		l := cfg.Matting.Local
		session, err := matting.NewONNXSession(matting.ONNXConfig{
			ModelPath:     l.ModelPath,
			SharedLibrary: l.SharedLibrary,
			InputName:     l.InputName,
			OutputName:    l.OutputName,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load matting model: %w", err)
		}
		provider := matting.NewLocal(session, l.Workers)
		return provider, func() {
			provider.Close()
			matting.ShutdownRuntime()
		}, nil

	case "remote":
		r := cfg.Matting.Remote
		return matting.NewRemote(matting.RemoteConfig{
			Endpoint:    r.Endpoint,
			APIKey:      r.APIKey,
			APIVersion:  r.APIVersion,
			Mode:        r.Mode,
			JPEGQuality: cfg.Image.JPEGQuality,
			Timeout:     r.Timeout,
		}, Log), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown matting backend %q (want remote or local)", cfg.Matting.Backend)
}

func pipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	opts, err := detectOptions(cfg)
	if err != nil {
		return pipeline.Config{}, err
	}
	g := cfg.Crop.Gate
	return pipeline.Config{
		Margins: cfg.Crop.Margins,
		Detect:  opts,
		Gate: crop.Gate{
			MinQuality:        types.QualityLevel(g.MinQuality),
			MaxBlur:           types.BlurLevel(g.MaxBlur),
			MaxYaw:            g.MaxYaw,
			MaxPitch:          g.MaxPitch,
			MaxRoll:           g.MaxRoll,
			RejectCoveredFace: g.RejectCoveredFace,
		},
	}, nil
}

// newPipeline wires detector, provider and preparer from cfg.
func newPipeline(cfg *config.Config, backend string) (*pipeline.Pipeline, func(), error) {
	pcfg, err := pipelineConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	detector, err := newDetector(cfg)
	if err != nil {
		return nil, nil, err
	}
	provider, cleanup, err := newProvider(cfg, backend)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(pcfg, imageprep.New(cfg.Image), detector, provider, Log), cleanup, nil
}

func newLoader(cfg *config.Config) *source.Loader {
	return source.New(source.Config{
		Timeout:    cfg.Source.Timeout,
		Region:     cfg.Source.Region,
		S3Endpoint: cfg.Source.S3Endpoint,
	})
}
