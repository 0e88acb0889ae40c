package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/forgery-api/internal/imaging"
)

// Snapshot is an immutable model state served to inference. The classifier
// it wraps is a private copy; nothing mutates it after construction.
type Snapshot struct {
	ID        uuid.UUID
	CreatedAt time.Time
	// Source describes where the weights came from (a run id or artifact key).
	Source string
	// Digest is the SHA-256 of the serialized head. Unlike ID it is stable
	// across restarts for the same weights.
	Digest string

	clf *Classifier
}

// NewSnapshot freezes a copy of clf.
func NewSnapshot(clf *Classifier, source string) *Snapshot {
	s := &Snapshot{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
		clf:       clf.Clone(),
	}
	s.Digest = s.ID.String()
	if data, err := s.clf.MarshalBinary(); err == nil {
		sum := sha256.Sum256(data)
		s.Digest = hex.EncodeToString(sum[:])
	}
	return s
}

// Backbone returns the feature extractor the snapshot runs on.
func (s *Snapshot) Backbone() Backbone {
	return s.clf.Backbone()
}

// Predict returns the tampered probability for a normalized tensor.
func (s *Snapshot) Predict(t imaging.Tensor) (float64, error) {
	return s.clf.Predict(t)
}

// Classifier returns a mutable copy of the snapshot's classifier.
func (s *Snapshot) Classifier() *Classifier {
	return s.clf.Clone()
}
