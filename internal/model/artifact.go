package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/forgery-api/internal/errs"
)

// ArtifactFormat versions the serialized head.
const ArtifactFormat = "forgery-head/v1"

type artifact struct {
	Format   string  `json:"format"`
	Backbone string  `json:"backbone"`
	Input    int     `json:"input"`
	Hidden   int     `json:"hidden"`
	Dropout1 float64 `json:"dropout1"`
	Dropout2 float64 `json:"dropout2"`
	// Matrices use gonum's binary encoding; encoding/json base64-encodes them.
	W1 []byte  `json:"w1"`
	B1 []byte  `json:"b1"`
	W2 []byte  `json:"w2"`
	B2 float64 `json:"b2"`
}

// Save writes the head weights together with the backbone identifier.
func (c *Classifier) Save(w io.Writer) error {
	w1, err := c.head.w1.MarshalBinary()
	if err != nil {
		return errs.E(errs.KindPersistence, "model.save", err)
	}
	b1, err := c.head.b1.MarshalBinary()
	if err != nil {
		return errs.E(errs.KindPersistence, "model.save", err)
	}
	w2, err := c.head.w2.MarshalBinary()
	if err != nil {
		return errs.E(errs.KindPersistence, "model.save", err)
	}

	a := artifact{
		Format:   ArtifactFormat,
		Backbone: c.backbone.Name(),
		Input:    c.head.InputDim(),
		Hidden:   c.head.Hidden(),
		Dropout1: c.cfg.Dropout1,
		Dropout2: c.cfg.Dropout2,
		W1:       w1,
		B1:       b1,
		W2:       w2,
		B2:       c.head.b2,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return errs.E(errs.KindPersistence, "model.save", err)
	}
	return nil
}

// MarshalBinary returns the Save output as bytes.
func (c *Classifier) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores a classifier saved with Save on top of backbone. The artifact
// must have been produced against a backbone with the same name.
func Load(r io.Reader, backbone Backbone, cfg Config) (*Classifier, error) {
	var a artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, errs.E(errs.KindPersistence, "model.load", fmt.Errorf("failed to parse artifact: %w", err))
	}
	if a.Format != ArtifactFormat {
		return nil, errs.Errorf(errs.KindPersistence, "model.load", "unsupported artifact format %q", a.Format)
	}
	if a.Backbone != backbone.Name() {
		return nil, errs.Errorf(errs.KindPersistence, "model.load",
			"artifact was trained on backbone %q, got %q", a.Backbone, backbone.Name())
	}

	var w1 mat.Dense
	if err := w1.UnmarshalBinary(a.W1); err != nil {
		return nil, errs.E(errs.KindPersistence, "model.load", fmt.Errorf("w1: %w", err))
	}
	var b1, w2 mat.VecDense
	if err := b1.UnmarshalBinary(a.B1); err != nil {
		return nil, errs.E(errs.KindPersistence, "model.load", fmt.Errorf("b1: %w", err))
	}
	if err := w2.UnmarshalBinary(a.W2); err != nil {
		return nil, errs.E(errs.KindPersistence, "model.load", fmt.Errorf("w2: %w", err))
	}

	_, _, channels := backbone.FeatureShape()
	r1, c1 := w1.Dims()
	if r1 != channels || r1 != a.Input || c1 != a.Hidden || b1.Len() != a.Hidden || w2.Len() != a.Hidden {
		return nil, errs.Errorf(errs.KindPersistence, "model.load",
			"artifact dimensions %dx%d do not match backbone channels %d", r1, c1, channels)
	}

	cfg.Hidden = a.Hidden
	cfg.Dropout1, cfg.Dropout2 = a.Dropout1, a.Dropout2
	clf, err := New(backbone, cfg)
	if err != nil {
		return nil, err
	}
	clf.head = &Head{w1: &w1, b1: &b1, w2: &w2, b2: a.B2}
	return clf, nil
}

// SaveFile writes the artifact atomically to path.
func (c *Classifier) SaveFile(path string) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.E(errs.KindPersistence, "model.save", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.E(errs.KindPersistence, "model.save", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.E(errs.KindPersistence, "model.save", err)
	}
	return nil
}

// LoadFile reads an artifact written by SaveFile.
func LoadFile(path string, backbone Backbone, cfg Config) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.E(errs.KindPersistence, "model.load", err)
	}
	defer f.Close()
	return Load(f, backbone, cfg)
}
