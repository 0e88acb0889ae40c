// Package detector exposes the two entry points of the forgery detector:
// training a classifier from labeled images and analyzing a single image.
package detector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/forgery-api/internal/dataset"
	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
	"github.com/Brownie44l1/forgery-api/internal/model"
	"github.com/Brownie44l1/forgery-api/internal/storage"
	"github.com/Brownie44l1/forgery-api/internal/training"
)

// Config controls the detector.
type Config struct {
	Training training.Config
	ELA      imaging.ELA
}

// DefaultConfig returns the default training settings and ELA at quality 90/95.
func DefaultConfig() Config {
	return Config{Training: training.DefaultConfig(), ELA: imaging.DefaultELA()}
}

// AnalyzeOptions selects optional outputs of Analyze.
type AnalyzeOptions struct {
	// IncludeELA adds the PNG-encoded error level image to the result.
	IncludeELA bool
}

// Detector serves inference from an immutable model snapshot and replaces
// that snapshot after each successful training run. Analyze may be called
// concurrently with itself and with Train.
type Detector struct {
	store    storage.Store
	backbone model.Backbone
	pre      *imaging.Preprocessor
	ela      imaging.ELA
	cfg      Config
	loop     *training.Loop
	cache    *VerdictCache
	logger   *zap.Logger

	snapshot atomic.Pointer[model.Snapshot]
	trainMu  sync.Mutex
}

// New returns a detector serving an untrained head until a model is trained
// or loaded. cache and logger may be nil.
func New(store storage.Store, backbone model.Backbone, cfg Config, cache *VerdictCache, logger *zap.Logger) (*Detector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pre, err := imaging.NewPreprocessor(backbone.InputSize(), cfg.Training.Filter, backbone.Normalization())
	if err != nil {
		return nil, err
	}
	loop, err := training.NewLoop(store, backbone, cfg.Training, logger)
	if err != nil {
		return nil, err
	}
	clf, err := model.New(backbone, cfg.Training.Model)
	if err != nil {
		return nil, err
	}

	d := &Detector{
		store:    store,
		backbone: backbone,
		pre:      pre,
		ela:      cfg.ELA,
		cfg:      cfg,
		loop:     loop,
		cache:    cache,
		logger:   logger.Named("detector"),
	}
	d.snapshot.Store(model.NewSnapshot(clf, "untrained"))
	return d, nil
}

// Snapshot returns the model state currently used for inference.
func (d *Detector) Snapshot() *model.Snapshot {
	return d.snapshot.Load()
}

// Swap publishes s for inference and returns the previous snapshot.
func (d *Detector) Swap(s *model.Snapshot) *model.Snapshot {
	old := d.snapshot.Swap(s)
	modelSwaps.Inc()
	d.logger.Info("model snapshot published",
		zap.String("snapshot_id", s.ID.String()),
		zap.String("source", s.Source),
	)
	return old
}

// TrainingState reports the state of the current or last training run.
func (d *Detector) TrainingState() training.State {
	return d.loop.State()
}

// Train fits a fresh head on the images under authenticDir and tamperedDir
// and publishes it. Concurrent calls are serialized.
func (d *Detector) Train(ctx context.Context, authenticDir, tamperedDir string, epochs int) (*training.Report, error) {
	d.trainMu.Lock()
	defer d.trainMu.Unlock()

	report, err := d.loop.RunDirs(ctx, authenticDir, tamperedDir, epochs)
	if err != nil {
		return nil, err
	}
	d.Swap(model.NewSnapshot(report.Model, report.RunID))
	return report, nil
}

// TrainManifest is Train over an explicit path → label manifest.
func (d *Detector) TrainManifest(ctx context.Context, m dataset.Manifest, epochs int) (*training.Report, error) {
	d.trainMu.Lock()
	defer d.trainMu.Unlock()

	report, err := d.loop.Run(ctx, m, epochs)
	if err != nil {
		return nil, err
	}
	d.Swap(model.NewSnapshot(report.Model, report.RunID))
	return report, nil
}

// LoadModel reads a saved artifact from the store and publishes it.
func (d *Detector) LoadModel(ctx context.Context, key string) error {
	data, err := d.store.Get(ctx, key)
	if err != nil {
		return errs.E(errs.KindPersistence, "detector.load", err)
	}
	clf, err := model.Load(bytes.NewReader(data), d.backbone, d.cfg.Training.Model)
	if err != nil {
		return err
	}
	d.Swap(model.NewSnapshot(clf, key))
	return nil
}

// Analyze returns the verdict for one encoded image. It returns either a
// complete result or an error, never both.
func (d *Detector) Analyze(ctx context.Context, data []byte, opts AnalyzeOptions) (*model.AnalysisResult, error) {
	start := time.Now()
	res, err := d.analyze(ctx, data, opts)
	analyzeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		analyzeTotal.WithLabelValues(string(errs.KindOf(err))).Inc()
		return nil, err
	}
	outcome := "authentic"
	if res.IsForged {
		outcome = "forged"
	}
	analyzeTotal.WithLabelValues(outcome).Inc()
	return res, nil
}

func (d *Detector) analyze(ctx context.Context, data []byte, opts AnalyzeOptions) (*model.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.KindCanceled, "analyze", err)
	}
	if len(data) == 0 {
		return nil, errs.E(errs.KindDecode, "analyze", errors.New("empty image"))
	}

	snap := d.snapshot.Load()
	snapID := snap.ID.String()
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if d.cache != nil && !opts.IncludeELA {
		cached, ok, err := d.cache.Get(snap.Digest, digest)
		if err != nil {
			d.logger.Warn("verdict cache read failed", zap.Error(err))
		} else if ok {
			cacheHits.Inc()
			cached.SnapshotID = snapID
			return &cached, nil
		}
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	tensor, err := d.pre.Normalize(img)
	if err != nil {
		return nil, err
	}
	prob, err := snap.Predict(tensor)
	if err != nil {
		return nil, err
	}

	res := model.Verdict(prob)
	res.SnapshotID = snapID

	if opts.IncludeELA {
		elaImg, err := d.ela.Compute(img)
		if err != nil {
			return nil, err
		}
		png, err := imaging.EncodePNG(elaImg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode ELA image: %w", err)
		}
		res.ELA = png
	}

	if d.cache != nil {
		if err := d.cache.Put(snap.Digest, digest, res); err != nil {
			d.logger.Warn("verdict cache write failed", zap.Error(err))
		}
	}
	return &res, nil
}

// Close releases the backbone and the cache.
func (d *Detector) Close() error {
	var errList []error
	if d.cache != nil {
		errList = append(errList, d.cache.Close())
	}
	errList = append(errList, d.backbone.Close())
	return errors.Join(errList...)
}
