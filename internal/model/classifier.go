package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
)

// Config holds the head architecture and optimizer settings.
type Config struct {
	Hidden       int
	Dropout1     float64
	Dropout2     float64
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Seed         int64
	// Workers bounds concurrent backbone calls within a batch. Zero means GOMAXPROCS.
	Workers int
}

// DefaultConfig mirrors the reference head: dense(256), dropout 0.5/0.3, Adam 1e-3.
func DefaultConfig() Config {
	return Config{
		Hidden:       256,
		Dropout1:     0.5,
		Dropout2:     0.3,
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		Seed:         42,
	}
}

// Classifier pairs a frozen backbone with a trainable head. Predict is safe
// for concurrent use as long as Fit is not running on the same value; publish
// trained classifiers through a Snapshot to serve them.
type Classifier struct {
	backbone Backbone
	head     *Head
	cfg      Config
}

// New returns a classifier with a freshly initialized head.
func New(backbone Backbone, cfg Config) (*Classifier, error) {
	if cfg.Hidden <= 0 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "classifier", "hidden size must be positive, got %d", cfg.Hidden)
	}
	if cfg.Dropout1 < 0 || cfg.Dropout1 >= 1 || cfg.Dropout2 < 0 || cfg.Dropout2 >= 1 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "classifier", "dropout rates must be in [0, 1)")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	_, _, channels := backbone.FeatureShape()
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Classifier{
		backbone: backbone,
		head:     newHead(channels, cfg.Hidden, rng),
		cfg:      cfg,
	}, nil
}

// Backbone returns the frozen feature extractor.
func (c *Classifier) Backbone() Backbone {
	return c.backbone
}

// Config returns the head and optimizer settings.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Clone returns a classifier sharing the backbone with a private copy of the head.
func (c *Classifier) Clone() *Classifier {
	return &Classifier{backbone: c.backbone, head: c.head.clone(), cfg: c.cfg}
}

// Features runs the backbone and global-average-pools its feature map.
func (c *Classifier) Features(t imaging.Tensor) ([]float64, error) {
	size := c.backbone.InputSize()
	if err := t.CheckShape(size, size, 3); err != nil {
		return nil, err
	}
	fm, err := c.backbone.Extract(t)
	if err != nil {
		return nil, err
	}

	h, w, ch := c.backbone.FeatureShape()
	if len(fm) != h*w*ch {
		return nil, errs.Errorf(errs.KindShapeMismatch, "features",
			"backbone returned %d values, want %dx%dx%d", len(fm), h, w, ch)
	}

	pooled := make([]float64, ch)
	for i := 0; i < h*w; i++ {
		cell := fm[i*ch : (i+1)*ch]
		for j, v := range cell {
			pooled[j] += float64(v)
		}
	}
	inv := 1 / float64(h*w)
	for j := range pooled {
		pooled[j] *= inv
	}
	return pooled, nil
}

// Predict returns the probability that t shows a tampered image.
func (c *Classifier) Predict(t imaging.Tensor) (float64, error) {
	f, err := c.Features(t)
	if err != nil {
		return 0, err
	}
	p := c.head.Probability(f)
	if math.IsNaN(p) {
		return 0, errs.E(errs.KindTrainingDivergence, "predict", fmt.Errorf("head produced NaN"))
	}
	return p, nil
}

// batchFeatures extracts pooled features for every input concurrently.
func (c *Classifier) batchFeatures(ctx context.Context, inputs []imaging.Tensor) (*mat.Dense, error) {
	x := mat.NewDense(len(inputs), c.head.InputDim(), nil)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i, in := range inputs {
		g.Go(func() error {
			f, err := c.Features(in)
			if err != nil {
				return err
			}
			x.SetRow(i, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return x, nil
}

// Evaluation summarizes predictions over a batch source.
type Evaluation struct {
	Loss     float64
	Accuracy float64
	AUC      float64
	N        int
}

// Evaluate predicts every sample of src without dropout.
func (c *Classifier) Evaluate(ctx context.Context, src BatchSource) (Evaluation, error) {
	var probs, labels []float64
	for batch, err := range src.Batches(0) {
		if err != nil {
			return Evaluation{}, err
		}
		x, err := c.batchFeatures(ctx, batch.Inputs)
		if err != nil {
			return Evaluation{}, err
		}
		for i := range batch.Inputs {
			probs = append(probs, c.head.Probability(x.RawRowView(i)))
		}
		labels = append(labels, batch.Labels...)
	}
	return Evaluation{
		Loss:     BinaryCrossEntropy(probs, labels),
		Accuracy: Accuracy(probs, labels),
		AUC:      AUC(probs, labels),
		N:        len(probs),
	}, nil
}

// FitOptions controls a training run.
type FitOptions struct {
	Epochs int
	// Patience is the number of epochs without validation-accuracy
	// improvement before stopping. Zero disables early stopping.
	Patience int

	OnEpochBegin func(epoch int)
	OnEvaluate   func(epoch int)
	OnEpochEnd   func(m EpochMetrics)
	// Checkpoint is called with a copy of the classifier whenever validation
	// accuracy improves. Its context is not canceled with Fit's, so a
	// completed epoch is always persisted. An error aborts training.
	Checkpoint func(ctx context.Context, epoch int, best *Classifier) error
}

// Fit trains the head on train, evaluating on val after every epoch. Only
// head parameters change. The best head by validation accuracy is restored
// before returning. Cancellation is honored between epochs; the head then
// keeps the weights of the last completed epoch. The returned history is
// non-nil even when an error is returned.
func (c *Classifier) Fit(ctx context.Context, train, val BatchSource, opts FitOptions) (*History, error) {
	history := &History{}
	if opts.Epochs <= 0 {
		return history, errs.Errorf(errs.KindInvalidArgument, "fit", "epochs must be positive, got %d", opts.Epochs)
	}

	opt := newAdam(c.head, c.cfg.LearningRate, c.cfg.Beta1, c.cfg.Beta2, c.cfg.Epsilon)
	rng := rand.New(rand.NewSource(c.cfg.Seed + 1))
	stopper := NewEarlyStopping(opts.Patience)
	var best *Head

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, errs.E(errs.KindCanceled, "fit", err)
		}
		if opts.OnEpochBegin != nil {
			opts.OnEpochBegin(epoch)
		}

		m, err := c.trainEpoch(ctx, train, epoch, opt, rng)
		if err != nil {
			return history, err
		}

		if opts.OnEvaluate != nil {
			opts.OnEvaluate(epoch)
		}
		ev, err := c.Evaluate(ctx, val)
		if err != nil {
			return history, err
		}
		m.ValLoss, m.ValAccuracy, m.ValAUC = ev.Loss, ev.Accuracy, ev.AUC

		history.Epochs = append(history.Epochs, m)
		if opts.OnEpochEnd != nil {
			opts.OnEpochEnd(m)
		}

		improved, stop := stopper.Observe(epoch, m.ValAccuracy)
		if improved {
			best = c.head.clone()
			history.BestEpoch = epoch
			if opts.Checkpoint != nil {
				snapshot := &Classifier{backbone: c.backbone, head: best.clone(), cfg: c.cfg}
				if err := opts.Checkpoint(context.WithoutCancel(ctx), epoch, snapshot); err != nil {
					return history, errs.E(errs.KindPersistence, "fit.checkpoint", err)
				}
			}
		}
		if stop && epoch < opts.Epochs {
			history.StoppedEarly = true
			break
		}
	}

	if best != nil {
		c.head = best
	}
	return history, nil
}

func (c *Classifier) trainEpoch(ctx context.Context, src BatchSource, epoch int, opt *adam, rng *rand.Rand) (EpochMetrics, error) {
	m := EpochMetrics{Epoch: epoch}
	var probs, labels []float64
	var lossSum float64

	for batch, err := range src.Batches(epoch) {
		if err != nil {
			return m, err
		}
		if batch.Len() == 0 {
			continue
		}
		if len(batch.Labels) != batch.Len() {
			return m, errs.Errorf(errs.KindShapeMismatch, "fit", "batch has %d inputs and %d labels", batch.Len(), len(batch.Labels))
		}

		x, err := c.batchFeatures(ctx, batch.Inputs)
		if err != nil {
			return m, err
		}
		loss, p, grads := c.head.forwardBackward(x, batch.Labels, c.cfg.Dropout1, c.cfg.Dropout2, rng)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return m, errs.E(errs.KindTrainingDivergence, "fit", fmt.Errorf("non-finite loss in epoch %d", epoch))
		}
		opt.step(c.head, grads)
		if !c.head.finite() {
			return m, errs.E(errs.KindTrainingDivergence, "fit", fmt.Errorf("non-finite head parameters in epoch %d", epoch))
		}

		lossSum += loss * float64(batch.Len())
		probs = append(probs, p...)
		labels = append(labels, batch.Labels...)
	}
	if len(probs) == 0 {
		return m, errs.Errorf(errs.KindInvalidArgument, "fit", "training source produced no samples")
	}

	m.Loss = lossSum / float64(len(probs))
	m.Accuracy = Accuracy(probs, labels)
	m.AUC = AUC(probs, labels)
	return m, nil
}
