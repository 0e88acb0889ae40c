package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.False(t, cfg.MinIO.Enabled)
	assert.Equal(t, "projection", cfg.Model.Backbone)
	assert.Equal(t, 224, cfg.Model.ImageSize)
	assert.Equal(t, 32, cfg.Training.BatchSize)
	assert.Equal(t, 1000, cfg.Training.ShuffleBuffer)
	assert.Equal(t, 3, cfg.Training.Patience)
	assert.Equal(t, int64(42), cfg.Training.Seed)
	assert.InDelta(t, 0.2, cfg.Training.ValFraction, 1e-12)
	assert.Equal(t, 90, cfg.ELA.LowQuality)
	assert.Equal(t, 95, cfg.ELA.HighQuality)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FORGERY_SERVER_PORT", "9191")
	t.Setenv("FORGERY_TRAINING_EPOCHS", "5")
	t.Setenv("FORGERY_STORAGE_BACKEND", "minio")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Training.Epochs)
	assert.True(t, cfg.MinIO.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: console
training:
  batch_size: 8
ela:
  scale: 20
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Training.BatchSize)
	assert.Equal(t, 20, cfg.ELA.Scale)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"log level", map[string]string{"FORGERY_LOG_LEVEL": "loud"}},
		{"backend", map[string]string{"FORGERY_STORAGE_BACKEND": "s3"}},
		{"val fraction", map[string]string{"FORGERY_TRAINING_VAL_FRACTION": "1.5"}},
		{"ela order", map[string]string{"FORGERY_ELA_LOW_QUALITY": "95", "FORGERY_ELA_HIGH_QUALITY": "90"}},
		{"onnx paths", map[string]string{"FORGERY_MODEL_BACKBONE": "onnx", "FORGERY_MODEL_ONNX_PATH": ""}},
		{"minio bucket", map[string]string{"FORGERY_STORAGE_BACKEND": "minio", "FORGERY_MINIO_BUCKET": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
