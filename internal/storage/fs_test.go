package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s := NewFSStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "images/b.jpg", []byte("b"), "image/jpeg"))
	require.NoError(t, s.Put(ctx, "images/a.jpg", []byte("a"), "image/jpeg"))
	require.NoError(t, s.Put(ctx, "images/nested/c.jpg", []byte("c"), "image/jpeg"))

	keys, err := s.List(ctx, "images")
	require.NoError(t, err)
	assert.Equal(t, []string{"images/a.jpg", "images/b.jpg"}, keys)

	data, err := s.Get(ctx, "images/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}

func TestFSStore_GetMissing(t *testing.T) {
	s := NewFSStore(t.TempDir())

	_, err := s.Get(context.Background(), "nope.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_AbsoluteKeysBypassRoot(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "outside.txt")
	require.NoError(t, os.WriteFile(abs, []byte("x"), 0644))

	s := NewFSStore(filepath.Join(dir, "root"))
	data, err := s.Get(context.Background(), abs)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestFSStore_PutOverwritesAtomically(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFSStore(dir)

	require.NoError(t, s.Put(ctx, "model.json", []byte("v1"), "application/json"))
	require.NoError(t, s.Put(ctx, "model.json", []byte("v2"), "application/json"))

	data, err := s.Get(ctx, "model.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFSStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewFSStore(t.TempDir())
	assert.ErrorIs(t, s.Put(ctx, "x", nil, ""), context.Canceled)
}
