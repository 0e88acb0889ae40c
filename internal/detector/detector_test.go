package detector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/forgery-api/internal/dataset"
	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/model"
	"github.com/Brownie44l1/forgery-api/internal/storage"
	"github.com/Brownie44l1/forgery-api/internal/training"
)

func jpegBytes(t *testing.T, rng *rand.Rand, w, h, base int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(base + rng.Intn(50))
			img.Set(x, y, color.RGBA{v, uint8(x * 3), uint8(y * 3), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}))
	return buf.Bytes()
}

func testBackbone(t *testing.T) *model.ProjectionBackbone {
	t.Helper()
	b, err := model.NewProjectionBackbone(model.ProjectionConfig{InputSize: 32, Grid: 4, Cells: 2, Channels: 16, Seed: 42})
	require.NoError(t, err)
	return b
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Training.Filter = "bilinear"
	cfg.Training.Model.Hidden = 16
	cfg.Training.Workers = 4
	return cfg
}

func newDetector(t *testing.T, store storage.Store, cache *VerdictCache) *Detector {
	t.Helper()
	d, err := New(store, testBackbone(t), testConfig(), cache, nil)
	require.NoError(t, err)
	return d
}

func seedStore(t *testing.T, n int) *storage.FSStore {
	t.Helper()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(3))
	s := storage.NewFSStore(t.TempDir())
	for i := 0; i < n; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("Au/%02d.jpg", i), jpegBytes(t, rng, 48, 40, 10), "image/jpeg"))
		require.NoError(t, s.Put(ctx, fmt.Sprintf("Tp/%02d.jpg", i), jpegBytes(t, rng, 48, 40, 190), "image/jpeg"))
	}
	return s
}

func TestAnalyze_Deterministic(t *testing.T) {
	d := newDetector(t, storage.NewFSStore(t.TempDir()), nil)
	data := jpegBytes(t, rand.New(rand.NewSource(1)), 64, 48, 80)

	first, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
		require.NoError(t, err)
		assert.Equal(t, first.IsForged, again.IsForged)
		assert.Equal(t, first.Confidence, again.Confidence)
	}
	assert.Equal(t, d.Snapshot().ID.String(), first.SnapshotID)
	assert.Nil(t, first.ELA)
}

func TestAnalyze_ConfidenceInvariants(t *testing.T) {
	d := newDetector(t, storage.NewFSStore(t.TempDir()), nil)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 8; i++ {
		res, err := d.Analyze(context.Background(), jpegBytes(t, rng, 30+i*7, 20+i*5, i*30), AnalyzeOptions{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 100.0)
		assert.Equal(t, res.Confidence > 50, res.IsForged)
	}
}

func TestAnalyze_MalformedBytes(t *testing.T) {
	d := newDetector(t, storage.NewFSStore(t.TempDir()), nil)

	for _, data := range [][]byte{nil, []byte("GIF89a nope"), {0xff, 0xd8, 0xff, 0x00}} {
		res, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
		assert.Nil(t, res)
		assert.True(t, errs.Is(err, errs.KindDecode), "got %v", err)
	}
}

func TestAnalyze_Canceled(t *testing.T) {
	d := newDetector(t, storage.NewFSStore(t.TempDir()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Analyze(ctx, []byte{1}, AnalyzeOptions{})
	assert.True(t, errs.Is(err, errs.KindCanceled))
}

func TestAnalyze_IncludeELA(t *testing.T) {
	d := newDetector(t, storage.NewFSStore(t.TempDir()), nil)
	data := jpegBytes(t, rand.New(rand.NewSource(4)), 50, 30, 60)

	res, err := d.Analyze(context.Background(), data, AnalyzeOptions{IncludeELA: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.ELA)

	img, err := png.Decode(bytes.NewReader(res.ELA))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())

	plain, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, plain.Confidence, res.Confidence)
}

func TestAnalyze_Cache(t *testing.T) {
	cache, err := OpenVerdictCache(CacheConfig{}, nil)
	require.NoError(t, err)

	d := newDetector(t, storage.NewFSStore(t.TempDir()), cache)
	t.Cleanup(func() { d.Close() })
	data := jpegBytes(t, rand.New(rand.NewSource(5)), 40, 40, 100)

	first, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)

	cached, ok, err := cache.Get(d.Snapshot().Digest, digestOf(data))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Confidence, cached.Confidence)

	second, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, ok, err = cache.Get("other-model", digestOf(data))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAnalyze_CacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	data := jpegBytes(t, rand.New(rand.NewSource(6)), 40, 40, 120)

	cache, err := OpenVerdictCache(CacheConfig{Dir: dir}, nil)
	require.NoError(t, err)
	d := newDetector(t, storage.NewFSStore(t.TempDir()), cache)
	first, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)
	digest := d.Snapshot().Digest
	require.NoError(t, d.Close())

	cache, err = OpenVerdictCache(CacheConfig{Dir: dir}, nil)
	require.NoError(t, err)
	restarted := newDetector(t, storage.NewFSStore(t.TempDir()), cache)
	t.Cleanup(func() { restarted.Close() })

	assert.NotEqual(t, first.SnapshotID, restarted.Snapshot().ID.String())
	assert.Equal(t, digest, restarted.Snapshot().Digest)

	cached, ok, err := cache.Get(digest, digestOf(data))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Confidence, cached.Confidence)

	res, err := restarted.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.Confidence, res.Confidence)
	assert.Equal(t, restarted.Snapshot().ID.String(), res.SnapshotID)
}

func TestTrain_PublishesSnapshot(t *testing.T) {
	s := seedStore(t, 10)
	d := newDetector(t, s, nil)
	before := d.Snapshot()
	assert.Equal(t, "untrained", before.Source)

	report, err := d.Train(context.Background(), "Au", "Tp", 1)
	require.NoError(t, err)
	require.Len(t, report.Epochs, 1)
	assert.Equal(t, training.StateCompleted, d.TrainingState())

	after := d.Snapshot()
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, report.RunID, after.Source)

	res, err := d.Analyze(context.Background(), jpegBytes(t, rand.New(rand.NewSource(6)), 40, 40, 200), AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, after.ID.String(), res.SnapshotID)

	other := newDetector(t, s, nil)
	require.NoError(t, other.LoadModel(context.Background(), report.ArtifactKey))
	data := jpegBytes(t, rand.New(rand.NewSource(7)), 40, 40, 50)
	want, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)
	got, err := other.Analyze(context.Background(), data, AnalyzeOptions{})
	require.NoError(t, err)
	assert.InDelta(t, want.Confidence, got.Confidence, 1e-3)
}

func TestTrain_FailureKeepsSnapshot(t *testing.T) {
	d := newDetector(t, seedStore(t, 2), nil)
	before := d.Snapshot()

	_, err := d.Train(context.Background(), "Au", "missing", 1)
	require.Error(t, err)
	var runErr *training.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 0, runErr.LastEpoch)
	assert.Same(t, before, d.Snapshot())
	assert.Equal(t, training.StateFailed, d.TrainingState())
}

func TestTrainManifest(t *testing.T) {
	s := seedStore(t, 5)
	d := newDetector(t, s, nil)

	var m dataset.Manifest
	for i := 0; i < 5; i++ {
		m.Entries = append(m.Entries,
			dataset.Entry{Path: fmt.Sprintf("Au/%02d.jpg", i), Label: dataset.Authentic},
			dataset.Entry{Path: fmt.Sprintf("Tp/%02d.jpg", i), Label: dataset.Tampered},
		)
	}
	report, err := d.TrainManifest(context.Background(), m, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Dataset.Loaded)
	assert.NotEmpty(t, report.Epochs)
}

func TestLoadModel_Missing(t *testing.T) {
	d := newDetector(t, storage.NewFSStore(t.TempDir()), nil)
	err := d.LoadModel(context.Background(), "models/none.json")
	assert.True(t, errs.Is(err, errs.KindPersistence))
}

func TestAnalyze_ConcurrentWithSwap(t *testing.T) {
	d := newDetector(t, storage.NewFSStore(t.TempDir()), nil)
	data := jpegBytes(t, rand.New(rand.NewSource(8)), 32, 32, 120)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				res, err := d.Analyze(context.Background(), data, AnalyzeOptions{})
				assert.NoError(t, err)
				assert.NotEmpty(t, res.SnapshotID)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		d.Swap(model.NewSnapshot(d.Snapshot().Classifier(), "swap"))
	}
	wg.Wait()
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
