// Package training runs the dataset → augmentation → fit pipeline and
// persists what it produces.
package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/forgery-api/internal/augment"
	"github.com/Brownie44l1/forgery-api/internal/dataset"
	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
	"github.com/Brownie44l1/forgery-api/internal/model"
	"github.com/Brownie44l1/forgery-api/internal/storage"
)

// Config controls a training run.
type Config struct {
	BatchSize     int
	ShuffleBuffer int
	Seed          int64
	Patience      int
	ValFraction   float64
	// Workers bounds concurrent image decodes. Zero means GOMAXPROCS.
	Workers int
	// Filter is the resampling filter used to bring images to the backbone size.
	Filter string
	// ArtifactPrefix is the store prefix under which each run writes its files.
	ArtifactPrefix string
	// ModelKey, when set, also receives the best artifact of every successful run.
	ModelKey string
	Model    model.Config
}

// DefaultConfig returns batch size 32, a 1000-sample shuffle buffer,
// patience 3 and an 80/20 split with seed 42.
func DefaultConfig() Config {
	return Config{
		BatchSize:      32,
		ShuffleBuffer:  1000,
		Seed:           42,
		Patience:       3,
		ValFraction:    0.2,
		Filter:         "lanczos3",
		ArtifactPrefix: "runs",
		ModelKey:       "models/forgery_detector.json",
		Model:          model.DefaultConfig(),
	}
}

// Report is the immutable outcome of a successful run.
type Report struct {
	RunID        string               `json:"run_id"`
	Backbone     string               `json:"backbone"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
	Dataset      dataset.Stats        `json:"dataset"`
	TrainSize    int                  `json:"train_size"`
	ValSize      int                  `json:"val_size"`
	Epochs       []model.EpochMetrics `json:"epochs"`
	BestEpoch    int                  `json:"best_epoch"`
	StoppedEarly bool                 `json:"stopped_early"`
	// ValAccuracy is the validation accuracy of the restored best weights.
	ValAccuracy float64 `json:"val_accuracy"`
	ArtifactKey string  `json:"artifact_key"`
	PlotKey     string  `json:"plot_key,omitempty"`

	// Model is the trained classifier; it is not serialized.
	Model *model.Classifier `json:"-"`
}

// RunError is returned when a run fails. LastEpoch is the highest epoch that
// completed before the failure.
type RunError struct {
	RunID     string
	LastEpoch int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("training run %s failed after epoch %d: %v", e.RunID, e.LastEpoch, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Kind returns the error kind of the underlying failure.
func (e *RunError) Kind() errs.Kind {
	return errs.KindOf(e.Err)
}

// Loop trains classifiers on a fixed backbone. Runs on one Loop must not
// overlap; State may be read concurrently.
type Loop struct {
	store    storage.Store
	backbone model.Backbone
	pre      *imaging.Preprocessor
	cfg      Config
	logger   *zap.Logger

	state atomic.Int32
}

// NewLoop returns an idle loop. A nil logger discards output.
func NewLoop(store storage.Store, backbone model.Backbone, cfg Config, logger *zap.Logger) (*Loop, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "training", "batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.ValFraction <= 0 || cfg.ValFraction >= 1 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "training", "validation fraction must be in (0, 1), got %g", cfg.ValFraction)
	}
	pre, err := imaging.NewPreprocessor(backbone.InputSize(), cfg.Filter, backbone.Normalization())
	if err != nil {
		return nil, err
	}
	return &Loop{
		store:    store,
		backbone: backbone,
		pre:      pre,
		cfg:      cfg,
		logger:   logger.Named("training"),
	}, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) transition(to State, fields ...zap.Field) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.logger.Debug("state transition",
		append([]zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}, fields...)...)
}

// RunDirs trains on every file below authenticDir (label 0) and tamperedDir (label 1).
func (l *Loop) RunDirs(ctx context.Context, authenticDir, tamperedDir string, epochs int) (*Report, error) {
	runID := uuid.NewString()
	l.transition(StateBuildingDataset, zap.String("run_id", runID))

	m, err := dataset.ManifestFromDirs(ctx, l.store, authenticDir, tamperedDir)
	if err != nil {
		return nil, l.fail(runID, 0, err)
	}
	return l.run(ctx, runID, m, epochs)
}

// Run trains on an explicit manifest.
func (l *Loop) Run(ctx context.Context, m dataset.Manifest, epochs int) (*Report, error) {
	runID := uuid.NewString()
	l.transition(StateBuildingDataset, zap.String("run_id", runID))
	return l.run(ctx, runID, m, epochs)
}

func (l *Loop) run(ctx context.Context, runID string, m dataset.Manifest, epochs int) (*Report, error) {
	started := time.Now()
	defer func() { runDuration.Observe(time.Since(started).Seconds()) }()

	logger := l.logger.With(zap.String("run_id", runID))
	if epochs <= 0 {
		return nil, l.fail(runID, 0, errs.Errorf(errs.KindInvalidArgument, "training", "epochs must be positive, got %d", epochs))
	}

	builder := dataset.NewBuilder(l.store, l.pre, dataset.Config{
		ValFraction: l.cfg.ValFraction,
		Seed:        l.cfg.Seed,
		Workers:     l.cfg.Workers,
	}, logger)
	train, val, stats, err := builder.Build(ctx, m)
	skippedFiles.Add(float64(len(stats.Skipped)))
	if err != nil {
		return nil, l.fail(runID, 0, err)
	}

	clf, err := model.New(l.backbone, l.cfg.Model)
	if err != nil {
		return nil, l.fail(runID, 0, err)
	}

	policy := augment.NewPolicy(l.cfg.Seed)
	trainSrc := &pipeline{
		samples:   train.Samples,
		pre:       l.pre,
		policy:    policy,
		batchSize: l.cfg.BatchSize,
		buffer:    l.cfg.ShuffleBuffer,
		seed:      l.cfg.Seed,
		training:  true,
	}
	valSrc := &pipeline{samples: val.Samples, pre: l.pre, batchSize: l.cfg.BatchSize}

	artifactKey := path.Join(l.cfg.ArtifactPrefix, runID, "model.json")
	logger.Info("training started",
		zap.String("backbone", l.backbone.Name()),
		zap.Int("epochs", epochs),
		zap.Int("train", train.Len()),
		zap.Int("val", val.Len()),
	)
	l.transition(StateTraining)

	history, err := clf.Fit(ctx, trainSrc, valSrc, model.FitOptions{
		Epochs:       epochs,
		Patience:     l.cfg.Patience,
		OnEpochBegin: func(int) { l.transition(StateTraining) },
		OnEvaluate:   func(int) { l.transition(StateEvaluating) },
		OnEpochEnd: func(m model.EpochMetrics) {
			epochsTotal.Inc()
			valAccuracy.Set(m.ValAccuracy)
			logger.Info("epoch finished",
				zap.Int("epoch", m.Epoch),
				zap.Float64("loss", m.Loss),
				zap.Float64("accuracy", m.Accuracy),
				zap.Float64("auc", m.AUC),
				zap.Float64("val_loss", m.ValLoss),
				zap.Float64("val_accuracy", m.ValAccuracy),
				zap.Float64("val_auc", m.ValAUC),
			)
		},
		Checkpoint: func(ctx context.Context, epoch int, best *model.Classifier) error {
			if err := l.putModel(ctx, artifactKey, best); err != nil {
				return err
			}
			logger.Info("checkpoint saved", zap.Int("epoch", epoch), zap.String("key", artifactKey))
			return nil
		},
	})
	if err != nil {
		return nil, l.fail(runID, history.LastEpoch(), err)
	}

	final, err := clf.Evaluate(ctx, valSrc)
	if err != nil {
		return nil, l.fail(runID, history.LastEpoch(), err)
	}

	report := &Report{
		RunID:        runID,
		Backbone:     l.backbone.Name(),
		StartedAt:    started.UTC(),
		Dataset:      stats,
		TrainSize:    train.Len(),
		ValSize:      val.Len(),
		Epochs:       history.Epochs,
		BestEpoch:    history.BestEpoch,
		StoppedEarly: history.StoppedEarly,
		ValAccuracy:  final.Accuracy,
		ArtifactKey:  artifactKey,
		Model:        clf,
	}

	if l.cfg.ModelKey != "" {
		if err := l.putModel(ctx, l.cfg.ModelKey, clf); err != nil {
			return nil, l.fail(runID, history.LastEpoch(), errs.E(errs.KindPersistence, "training.publish", err))
		}
	}

	// The plot is a diagnostic; failing to render it does not fail the run.
	if png, err := PlotHistory(history.Epochs); err != nil {
		logger.Warn("failed to render training plot", zap.Error(err))
	} else {
		plotKey := path.Join(l.cfg.ArtifactPrefix, runID, "training_history.png")
		if err := l.store.Put(ctx, plotKey, png, "image/png"); err != nil {
			logger.Warn("failed to store training plot", zap.Error(err))
		} else {
			report.PlotKey = plotKey
		}
	}

	report.FinishedAt = time.Now().UTC()
	if data, err := json.MarshalIndent(report, "", "  "); err == nil {
		if err := l.store.Put(ctx, path.Join(l.cfg.ArtifactPrefix, runID, "report.json"), data, "application/json"); err != nil {
			logger.Warn("failed to store report", zap.Error(err))
		}
	}

	end := StateCompleted
	if history.StoppedEarly {
		end = StateStopped
	}
	l.transition(end)
	runsTotal.WithLabelValues(end.String()).Inc()

	logger.Info("training finished",
		zap.Int("best_epoch", history.BestEpoch),
		zap.Bool("stopped_early", history.StoppedEarly),
		zap.Float64("val_accuracy", final.Accuracy),
		zap.Duration("took", time.Since(started)),
	)
	return report, nil
}

func (l *Loop) putModel(ctx context.Context, key string, clf *model.Classifier) error {
	var buf bytes.Buffer
	if err := clf.Save(&buf); err != nil {
		return err
	}
	return l.store.Put(ctx, key, buf.Bytes(), "application/json")
}

func (l *Loop) fail(runID string, lastEpoch int, err error) error {
	l.transition(StateFailed, zap.Error(err))
	runsTotal.WithLabelValues(StateFailed.String()).Inc()
	l.logger.Error("training failed",
		zap.String("run_id", runID),
		zap.Int("last_epoch", lastEpoch),
		zap.String("kind", string(errs.KindOf(err))),
		zap.Error(err),
	)
	return &RunError{RunID: runID, LastEpoch: lastEpoch, Err: err}
}
