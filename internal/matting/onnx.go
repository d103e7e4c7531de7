package matting

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the model and the onnxruntime shared library.
type ONNXConfig struct {
	ModelPath     string
	SharedLibrary string
	InputName     string
	OutputName    string // discovered from the model when empty
}

// ONNXSession is a Session backed by onnxruntime. The model is loaded once
// and tensors are reused, so Run calls are serialized.
type ONNXSession struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXSession initializes the runtime environment (once per process) and
// loads the model at cfg.ModelPath.
func NewONNXSession(cfg ONNXConfig) (*ONNXSession, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: model path is required")
	}
	if cfg.InputName == "" {
		cfg.InputName = "input_image"
	}

	if !ort.IsInitialized() {
		if cfg.SharedLibrary != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}

	if cfg.OutputName == "" {
		_, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("onnx: inspect model: %w", err)
		}
		if len(outputs) == 0 {
			return nil, errors.New("onnx: model declares no outputs")
		}
		cfg.OutputName = outputs[0].Name
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, ModelSize, ModelSize))
	if err != nil {
		return nil, fmt.Errorf("onnx: allocate input: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, ModelSize, ModelSize))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: allocate output: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: load model %s: %w", cfg.ModelPath, err)
	}

	return &ONNXSession{session: session, input: input, output: output}, nil
}

// Run copies input into the bound tensor, runs the model and returns a copy
// of the output.
func (s *ONNXSession) Run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("onnx: input has %d values, want %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, err
	}

	src := s.output.GetData()
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

// Close releases the session and its tensors. The runtime environment stays
// up for the life of the process.
func (s *ONNXSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
		s.session = nil
	}
	if s.input != nil {
		errs = append(errs, s.input.Destroy())
		s.input = nil
	}
	if s.output != nil {
		errs = append(errs, s.output.Destroy())
		s.output = nil
	}
	return errors.Join(errs...)
}

// ShutdownRuntime tears down the onnxruntime environment. Call once at exit
// after every session is closed.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
