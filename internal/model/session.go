package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var envMu sync.Mutex

// Session runs an ONNX binary classifier. One DynamicAdvancedSession is shared
// across goroutines; tensors are allocated per call so runs never share buffers.
type Session struct {
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
	Path     string

	inputShape  ort.Shape
	outputShape ort.Shape
}

// InitRuntime points onnxruntime at a shared library (empty keeps the default)
// and initializes the environment once per process.
func InitRuntime(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the ONNX environment. Call after every Session is closed.
func ShutdownRuntime() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func NewSession(modelPath, metadataPath string) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model artifact: %w", err)
	}

	metadata, err := resolveMetadata(modelPath, metadataPath)
	if err != nil {
		return nil, err
	}
	if err := metadata.validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata for %s: %w", modelPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:     session,
		Metadata:    metadata,
		Path:        modelPath,
		inputShape:  ort.NewShape(metadata.InputShape...),
		outputShape: ort.NewShape(metadata.OutputShape...),
	}, nil
}

func (s *Session) Score(ctx context.Context, input []float32) (float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(input) != s.Metadata.InputSize() {
		return 0, fmt.Errorf("expected %d input values, got %d", s.Metadata.InputSize(), len(input))
	}

	inputTensor, err := ort.NewTensor(s.inputShape, input)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	out := outputTensor.GetData()
	if len(out) != 1 {
		return 0, fmt.Errorf("expected 1 output value, got %d", len(out))
	}
	return out[0], nil
}

func (s *Session) Info() Metadata {
	return s.Metadata
}

func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

// resolveMetadata reads the JSON sidecar when present and otherwise asks the
// runtime for the model's first input and output.
func resolveMetadata(modelPath, metadataPath string) (Metadata, error) {
	metadata := DefaultMetadata()

	if metadataPath != "" {
		raw, err := os.ReadFile(metadataPath)
		switch {
		case err == nil:
			metadata.Layout = ""
			if err := json.Unmarshal(raw, &metadata); err != nil {
				return metadata, fmt.Errorf("failed to parse metadata: %w", err)
			}
			if metadata.Layout == "" {
				metadata.Layout, _ = inferLayout(metadata.InputShape, metadata.ImageSize)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return metadata, fmt.Errorf("failed to read metadata: %w", err)
		}
	}

	if metadata.InputName != "" && metadata.OutputName != "" {
		return metadata, nil
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return metadata, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return metadata, fmt.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}

	metadata.InputName = inputs[0].Name
	metadata.OutputName = outputs[0].Name
	metadata.InputShape = concreteDims(inputs[0].Dimensions)
	metadata.OutputShape = concreteDims(outputs[0].Dimensions)
	metadata.Layout, metadata.ImageSize = inferLayout(metadata.InputShape, metadata.ImageSize)
	return metadata, nil
}

// concreteDims pins dynamic (batch) dimensions to 1.
func concreteDims(shape ort.Shape) []int64 {
	dims := make([]int64, len(shape))
	for i, d := range shape {
		if d <= 0 {
			d = 1
		}
		dims[i] = d
	}
	return dims
}

func inferLayout(shape []int64, fallbackSize int) (Layout, int) {
	if len(shape) != 4 {
		return LayoutNHWC, fallbackSize
	}
	if shape[3] == 3 {
		return LayoutNHWC, int(shape[1])
	}
	if shape[1] == 3 {
		return LayoutNCHW, int(shape[2])
	}
	return LayoutNHWC, fallbackSize
}
