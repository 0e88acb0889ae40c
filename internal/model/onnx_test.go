package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/forgery-api/internal/errs"
)

func TestLoadMetadata(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind errs.Kind
		want Metadata
	}{
		{
			name: "defaults filled",
			body: `{"input_shape":[1,224,224,3],"output_shape":[1,7,7,2048]}`,
			want: Metadata{
				Name:        "onnx",
				InputShape:  []int64{1, 224, 224, 3},
				OutputShape: []int64{1, 7, 7, 2048},
				InputName:   "input",
				OutputName:  "output",
				ImageSize:   224,
			},
		},
		{
			name: "explicit fields kept",
			body: `{"name":"resnet50v2","input_shape":[1,224,224,3],"output_shape":[1,2048],
				"input_name":"x","output_name":"pool","image_size":256,"normalization":"resnet_v2"}`,
			want: Metadata{
				Name:          "resnet50v2",
				InputShape:    []int64{1, 224, 224, 3},
				OutputShape:   []int64{1, 2048},
				InputName:     "x",
				OutputName:    "pool",
				ImageSize:     256,
				Normalization: "resnet_v2",
			},
		},
		{
			name: "channels first input",
			body: `{"input_shape":[1,3,224,224],"output_shape":[1,2048]}`,
			kind: errs.KindShapeMismatch,
		},
		{
			name: "non-square input",
			body: `{"input_shape":[1,224,200,3],"output_shape":[1,2048]}`,
			kind: errs.KindShapeMismatch,
		},
		{
			name: "three-dim output",
			body: `{"input_shape":[1,224,224,3],"output_shape":[1,49,2048]}`,
			kind: errs.KindShapeMismatch,
		},
		{
			name: "malformed json",
			body: `{"input_shape":`,
			kind: errs.KindPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "metadata.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			got, err := LoadMetadata(path)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadMetadata_MissingFile(t *testing.T) {
	_, err := LoadMetadata(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errs.Is(err, errs.KindPersistence))
}
