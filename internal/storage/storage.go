// Package storage is the durable-storage boundary of the detector: training
// images are listed and read through it and model artifacts are written to it.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Store reads and writes opaque objects addressed by slash-separated keys.
type Store interface {
	// List returns the keys of the objects directly below prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
