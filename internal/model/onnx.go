package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
)

// ONNXConfig locates an exported pretrained backbone (e.g. ResNet50V2 without top).
type ONNXConfig struct {
	ModelPath    string
	MetadataPath string
	// SharedLibraryPath points at libonnxruntime; empty uses the runtime default.
	SharedLibraryPath string
}

// ONNXBackbone runs a frozen network through onnxruntime. The session binds a
// single input and output tensor, so Extract calls are serialized.
type ONNXBackbone struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	norm         imaging.Normalization
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// LoadMetadata reads and checks the backbone metadata file.
func LoadMetadata(path string) (Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, errs.E(errs.KindPersistence, "onnx.metadata", fmt.Errorf("failed to read metadata: %w", err))
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, errs.E(errs.KindPersistence, "onnx.metadata", fmt.Errorf("failed to parse metadata: %w", err))
	}
	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	if len(metadata.InputShape) != 4 || metadata.InputShape[3] != 3 || metadata.InputShape[1] != metadata.InputShape[2] {
		return Metadata{}, errs.Errorf(errs.KindShapeMismatch, "onnx.metadata",
			"input shape must be [1,S,S,3], got %v", metadata.InputShape)
	}
	if n := len(metadata.OutputShape); n != 2 && n != 4 {
		return Metadata{}, errs.Errorf(errs.KindShapeMismatch, "onnx.metadata",
			"output shape must be [1,C] or [1,H,W,C], got %v", metadata.OutputShape)
	}
	if metadata.ImageSize == 0 {
		metadata.ImageSize = int(metadata.InputShape[1])
	}
	if metadata.Name == "" {
		metadata.Name = "onnx"
	}
	return metadata, nil
}

// NewONNXBackbone initializes the runtime and opens the session.
func NewONNXBackbone(cfg ONNXConfig) (*ONNXBackbone, error) {
	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}
	norm, err := imaging.NormalizationByName(metadata.Normalization)
	if err != nil {
		return nil, err
	}

	if !ort.IsInitialized() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXBackbone{
		session:      session,
		Metadata:     metadata,
		norm:         norm,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (b *ONNXBackbone) Name() string {
	return "onnx:" + b.Metadata.Name
}

func (b *ONNXBackbone) InputSize() int {
	return b.Metadata.ImageSize
}

func (b *ONNXBackbone) Normalization() imaging.Normalization {
	return b.norm
}

func (b *ONNXBackbone) FeatureShape() (int, int, int) {
	s := b.Metadata.OutputShape
	if len(s) == 2 {
		return 1, 1, int(s[1])
	}
	return int(s[1]), int(s[2]), int(s[3])
}

func (b *ONNXBackbone) Extract(t imaging.Tensor) ([]float32, error) {
	size := b.InputSize()
	if err := t.CheckShape(size, size, 3); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.inputTensor.GetData(), t.Data)
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := b.outputTensor.GetData()
	features := make([]float32, len(out))
	copy(features, out)
	return features, nil
}

func (b *ONNXBackbone) Close() error {
	if b.inputTensor != nil {
		b.inputTensor.Destroy()
	}
	if b.outputTensor != nil {
		b.outputTensor.Destroy()
	}
	if b.session != nil {
		b.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
