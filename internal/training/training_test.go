package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"path"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/forgery-api/internal/augment"
	"github.com/Brownie44l1/forgery-api/internal/dataset"
	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
	"github.com/Brownie44l1/forgery-api/internal/model"
	"github.com/Brownie44l1/forgery-api/internal/storage"
)

func jpegBytes(t *testing.T, rng *rand.Rand, base int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			v := uint8(base + rng.Intn(40))
			img.Set(x, y, color.RGBA{v, v / 2, uint8(x * 6), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func seedStore(t *testing.T, authentic, tampered int) *storage.FSStore {
	t.Helper()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	s := storage.NewFSStore(t.TempDir())
	for i := 0; i < authentic; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("data/Au/au_%02d.jpg", i), jpegBytes(t, rng, 20), "image/jpeg"))
	}
	for i := 0; i < tampered; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("data/Tp/tp_%02d.jpg", i), jpegBytes(t, rng, 180), "image/jpeg"))
	}
	return s
}

func smallBackbone(t *testing.T) *model.ProjectionBackbone {
	t.Helper()
	b, err := model.NewProjectionBackbone(model.ProjectionConfig{InputSize: 32, Grid: 4, Cells: 2, Channels: 16, Seed: 42})
	require.NoError(t, err)
	return b
}

func newLoop(t *testing.T, s storage.Store) *Loop {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Filter = "bilinear"
	cfg.Model.Hidden = 16
	l, err := NewLoop(s, smallBackbone(t), cfg, nil)
	require.NoError(t, err)
	return l
}

func TestLoop_RunDirsSingleEpoch(t *testing.T) {
	s := seedStore(t, 10, 10)
	l := newLoop(t, s)
	assert.Equal(t, StateIdle, l.State())

	report, err := l.RunDirs(context.Background(), "data/Au", "data/Tp", 1)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, l.State())
	require.Len(t, report.Epochs, 1)
	assert.Equal(t, 1, report.BestEpoch)
	assert.False(t, report.StoppedEarly)
	assert.Equal(t, 16, report.TrainSize)
	assert.Equal(t, 4, report.ValSize)
	assert.Equal(t, 20, report.Dataset.Loaded)
	assert.Equal(t, report.Epochs[0].ValAccuracy, report.ValAccuracy)
	assert.NotEmpty(t, report.RunID)

	ctx := context.Background()
	artifact, err := s.Get(ctx, report.ArtifactKey)
	require.NoError(t, err)
	loaded, err := model.Load(bytes.NewReader(artifact), smallBackbone(t), DefaultConfig().Model)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	_, err = s.Get(ctx, DefaultConfig().ModelKey)
	assert.NoError(t, err)

	require.NotEmpty(t, report.PlotKey)
	png, err := s.Get(ctx, report.PlotKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	_, err = s.Get(ctx, "runs/"+report.RunID+"/report.json")
	assert.NoError(t, err)
}

func TestLoop_RunStopsEarly(t *testing.T) {
	s := seedStore(t, 6, 6)
	cfg := DefaultConfig()
	cfg.Model.Hidden = 8
	cfg.Model.LearningRate = 0
	cfg.ModelKey = ""
	l, err := NewLoop(s, smallBackbone(t), cfg, nil)
	require.NoError(t, err)

	report, err := l.RunDirs(context.Background(), "data/Au", "data/Tp", 10)
	require.NoError(t, err)
	assert.True(t, report.StoppedEarly)
	assert.Len(t, report.Epochs, 4)
	assert.Equal(t, StateStopped, l.State())
}

func TestLoop_MissingDirFails(t *testing.T) {
	s := seedStore(t, 4, 0)
	l := newLoop(t, s)

	_, err := l.RunDirs(context.Background(), "data/Au", "data/Tp", 1)
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 0, runErr.LastEpoch)
	assert.Equal(t, StateFailed, l.State())
	assert.Equal(t, errs.KindInvalidArgument, runErr.Kind())
}

func TestLoop_ManifestEmptyClass(t *testing.T) {
	s := seedStore(t, 4, 0)
	l := newLoop(t, s)

	m := dataset.Manifest{Entries: []dataset.Entry{
		{Path: "data/Au/au_00.jpg", Label: dataset.Authentic},
		{Path: "data/Au/au_01.jpg", Label: dataset.Authentic},
		{Path: "data/Tp/missing.jpg", Label: dataset.Tampered},
	}}
	_, err := l.Run(context.Background(), m, 1)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, errs.KindEmptyDataset, runErr.Kind())
}

func TestLoop_InvalidEpochs(t *testing.T) {
	l := newLoop(t, seedStore(t, 2, 2))
	_, err := l.RunDirs(context.Background(), "data/Au", "data/Tp", 0)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
	assert.Equal(t, StateFailed, l.State())
}

func TestLoop_Canceled(t *testing.T) {
	l := newLoop(t, seedStore(t, 3, 3))
	m := dataset.Manifest{Entries: []dataset.Entry{
		{Path: "data/Au/au_00.jpg", Label: dataset.Authentic},
		{Path: "data/Tp/tp_00.jpg", Label: dataset.Tampered},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Run(ctx, m, 1)
	assert.True(t, errs.Is(err, errs.KindCanceled))
	assert.Equal(t, StateFailed, l.State())
}

// cancelingBackbone cancels its context on the nth Extract call.
type cancelingBackbone struct {
	*model.ProjectionBackbone
	n      int32
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (b *cancelingBackbone) Extract(t imaging.Tensor) ([]float32, error) {
	if b.calls.Add(1) == b.n {
		b.cancel()
	}
	return b.ProjectionBackbone.Extract(t)
}

func TestLoop_CanceledMidEpoch(t *testing.T) {
	s := seedStore(t, 6, 6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Filter = "bilinear"
	cfg.Model.Hidden = 16
	backbone := &cancelingBackbone{ProjectionBackbone: smallBackbone(t), n: 3, cancel: cancel}
	l, err := NewLoop(s, backbone, cfg, nil)
	require.NoError(t, err)

	_, err = l.RunDirs(ctx, "data/Au", "data/Tp", 5)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCanceled), "kind=%s", errs.KindOf(err))
	assert.Equal(t, StateFailed, l.State())

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 1, runErr.LastEpoch)

	_, err = s.Get(context.Background(), path.Join(cfg.ArtifactPrefix, runErr.RunID, "model.json"))
	assert.NoError(t, err)
}

func TestNewLoop_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 0
	_, err := NewLoop(storage.NewFSStore(t.TempDir()), smallBackbone(t), cfg, nil)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	cfg = DefaultConfig()
	cfg.ValFraction = 1
	_, err = NewLoop(storage.NewFSStore(t.TempDir()), smallBackbone(t), cfg, nil)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}

func TestBufferedShuffle(t *testing.T) {
	for _, buffer := range []int{1, 3, 10, 1000} {
		order := bufferedShuffle(25, buffer, rand.New(rand.NewSource(7)))
		sorted := slices.Clone(order)
		slices.Sort(sorted)
		want := make([]int, 25)
		for i := range want {
			want[i] = i
		}
		assert.Equal(t, want, sorted, "buffer %d", buffer)
	}

	assert.Equal(t, []int{0, 1, 2, 3}, bufferedShuffle(4, 1, rand.New(rand.NewSource(1))))
	assert.Equal(t,
		bufferedShuffle(50, 1000, rand.New(rand.NewSource(3))),
		bufferedShuffle(50, 1000, rand.New(rand.NewSource(3))))
	assert.Empty(t, bufferedShuffle(0, 10, rand.New(rand.NewSource(1))))
}

func TestPipeline_Batches(t *testing.T) {
	pre, err := imaging.NewPreprocessor(8, "nearest", imaging.NormResNetV2)
	require.NoError(t, err)

	var samples []dataset.Sample
	for i := 0; i < 70; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for j := range img.Pix {
			img.Pix[j] = uint8(i)
		}
		samples = append(samples, dataset.Sample{Label: dataset.Label(i % 2), Raster: img})
	}

	val := &pipeline{samples: samples, pre: pre, batchSize: 32}
	var sizes []int
	var seen []float32
	for b, err := range val.Batches(1) {
		require.NoError(t, err)
		sizes = append(sizes, b.Len())
		for i, in := range b.Inputs {
			require.NoError(t, in.CheckShape(8, 8, 3))
			seen = append(seen, in.Data[0])
			assert.Equal(t, float64((len(seen)-1)%2), b.Labels[i])
		}
	}
	assert.Equal(t, []int{32, 32, 6}, sizes)
	for i, v := range seen {
		assert.InDelta(t, float32(i)/127.5-1, v, 1e-6)
	}

	train := &pipeline{samples: samples, pre: pre, policy: augment.NewPolicy(1), batchSize: 32, buffer: 1000, seed: 42, training: true}
	labels := func(epoch int) []float64 {
		var out []float64
		for b, err := range train.Batches(epoch) {
			require.NoError(t, err)
			out = append(out, b.Labels...)
		}
		return out
	}
	e1 := labels(1)
	assert.Len(t, e1, 70)
	assert.Equal(t, e1, labels(1))
	assert.NotEqual(t, e1, labels(2))
}

func TestPlotHistory(t *testing.T) {
	_, err := PlotHistory(nil)
	assert.Error(t, err)

	png, err := PlotHistory([]model.EpochMetrics{
		{Epoch: 1, Loss: 0.7, Accuracy: 0.5, ValLoss: 0.69, ValAccuracy: 0.55},
		{Epoch: 2, Loss: 0.5, Accuracy: 0.7, ValLoss: 0.6, ValAccuracy: 0.65},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "building_dataset", StateBuildingDataset.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateStopped.Terminal())
	assert.False(t, StateEvaluating.Terminal())
}
