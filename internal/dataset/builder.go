package dataset

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/rand"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
	"github.com/Brownie44l1/forgery-api/internal/storage"
)

// Sample is a preprocessed raster with its label. Samples are never mutated
// after Build returns.
type Sample struct {
	Path   string
	Label  Label
	Raster *image.RGBA
}

// Dataset is an ordered collection of samples.
type Dataset struct {
	Samples []Sample
}

// Len returns the number of samples.
func (d Dataset) Len() int {
	return len(d.Samples)
}

// Count returns the number of samples carrying label.
func (d Dataset) Count(label Label) int {
	n := 0
	for _, s := range d.Samples {
		if s.Label == label {
			n++
		}
	}
	return n
}

// Fraction returns the share of samples carrying label, or 0 for an empty set.
func (d Dataset) Fraction(label Label) float64 {
	if len(d.Samples) == 0 {
		return 0
	}
	return float64(d.Count(label)) / float64(len(d.Samples))
}

// LoadResult is the outcome of loading one manifest entry: either a usable
// sample or the reason it was skipped.
type LoadResult struct {
	Entry  Entry
	Sample Sample
	Err    error
}

// Skipped reports whether the entry produced no sample.
func (r LoadResult) Skipped() bool {
	return r.Err != nil
}

// Skip records a file left out of the dataset.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Stats summarizes a build.
type Stats struct {
	Total    int           `json:"total"`
	Loaded   int           `json:"loaded"`
	PerLabel map[Label]int `json:"per_label"`
	Skipped  []Skip        `json:"skipped,omitempty"`
}

// Config controls dataset assembly.
type Config struct {
	// ValFraction is the share of samples held out for validation.
	ValFraction float64
	Seed        int64
	// Workers bounds concurrent decodes. Zero means GOMAXPROCS.
	Workers int
}

// DefaultConfig holds out 20% with seed 42.
func DefaultConfig() Config {
	return Config{ValFraction: 0.2, Seed: 42}
}

// Builder loads manifest entries through a store and preprocesses them.
type Builder struct {
	store  storage.Store
	pre    *imaging.Preprocessor
	cfg    Config
	logger *zap.Logger
}

// NewBuilder returns a builder. A nil logger discards output.
func NewBuilder(store storage.Store, pre *imaging.Preprocessor, cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Builder{store: store, pre: pre, cfg: cfg, logger: logger}
}

// Load reads and preprocesses every entry concurrently. The result slice is
// index-aligned with m.Entries whatever order the decodes finish in. Only
// context cancellation is returned as an error; per-file failures are
// reported in the results.
func (b *Builder) Load(ctx context.Context, m Manifest) ([]LoadResult, error) {
	results := make([]LoadResult, len(m.Entries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	for i, entry := range m.Entries {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results[i] = b.loadOne(gCtx, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.E(errs.KindCanceled, "dataset.load", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.KindCanceled, "dataset.load", err)
	}
	return results, nil
}

func (b *Builder) loadOne(ctx context.Context, entry Entry) LoadResult {
	res := LoadResult{Entry: entry}

	data, err := b.store.Get(ctx, entry.Path)
	if err != nil {
		res.Err = errs.E(errs.KindDecode, "dataset.read", err)
		return res
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		res.Err = err
		return res
	}

	res.Sample = Sample{Path: entry.Path, Label: entry.Label, Raster: b.pre.Resize(img)}
	return res
}

// Build loads the manifest and returns a stratified train/validation split.
// It fails with empty_dataset when either class has no usable samples.
func (b *Builder) Build(ctx context.Context, m Manifest) (Dataset, Dataset, Stats, error) {
	if err := m.Validate(); err != nil {
		return Dataset{}, Dataset{}, Stats{}, err
	}

	b.logger.Info("loading dataset",
		zap.Int("entries", len(m.Entries)),
		zap.Int("workers", b.cfg.Workers),
	)

	results, err := b.Load(ctx, m)
	if err != nil {
		return Dataset{}, Dataset{}, Stats{}, err
	}

	stats := Stats{Total: len(results), PerLabel: map[Label]int{Authentic: 0, Tampered: 0}}
	samples := make([]Sample, 0, len(results))
	for _, r := range results {
		if r.Skipped() {
			b.logger.Warn("skipping unreadable image",
				zap.String("path", r.Entry.Path),
				zap.Error(r.Err),
			)
			stats.Skipped = append(stats.Skipped, Skip{Path: r.Entry.Path, Reason: r.Err.Error()})
			continue
		}
		samples = append(samples, r.Sample)
		stats.PerLabel[r.Sample.Label]++
	}
	stats.Loaded = len(samples)

	for _, label := range []Label{Authentic, Tampered} {
		if stats.PerLabel[label] == 0 {
			return Dataset{}, Dataset{}, stats, errs.E(errs.KindEmptyDataset, "dataset.build",
				fmt.Errorf("no usable %s samples (%d skipped)", label, len(stats.Skipped)))
		}
	}

	train, val := Split(samples, b.cfg.ValFraction, b.cfg.Seed)

	b.logger.Info("dataset ready",
		zap.Int("train", train.Len()),
		zap.Int("val", val.Len()),
		zap.Int("authentic", stats.PerLabel[Authentic]),
		zap.Int("tampered", stats.PerLabel[Tampered]),
		zap.Int("skipped", len(stats.Skipped)),
	)
	return train, val, stats, nil
}

// Split partitions samples into train and validation sets preserving label
// proportions. The validation size is ceil(valFraction·n), apportioned across
// labels by largest remainder. The result depends only on the input order and seed.
func Split(samples []Sample, valFraction float64, seed int64) (Dataset, Dataset) {
	n := len(samples)
	if n == 0 {
		return Dataset{}, Dataset{}
	}

	nVal := int(math.Ceil(valFraction*float64(n) - 1e-9))
	nVal = max(0, min(nVal, n-1))

	byLabel := map[Label][]int{}
	labels := []Label{Authentic, Tampered}
	for i, s := range samples {
		byLabel[s.Label] = append(byLabel[s.Label], i)
	}

	quota := apportion(nVal, n, []int{len(byLabel[Authentic]), len(byLabel[Tampered])})

	rng := rand.New(rand.NewSource(seed))
	var train, val []Sample
	for li, label := range labels {
		idx := byLabel[label]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for k, i := range idx {
			if k < quota[li] {
				val = append(val, samples[i])
			} else {
				train = append(train, samples[i])
			}
		}
	}

	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(val), func(i, j int) { val[i], val[j] = val[j], val[i] })

	return Dataset{Samples: train}, Dataset{Samples: val}
}

// apportion distributes total seats over groups proportionally to their
// sizes using the largest-remainder method. Ties favor the larger group.
func apportion(total, n int, sizes []int) []int {
	quota := make([]int, len(sizes))
	rem := make([]float64, len(sizes))
	assigned := 0
	for i, size := range sizes {
		exact := float64(total) * float64(size) / float64(n)
		quota[i] = int(math.Floor(exact))
		rem[i] = exact - float64(quota[i])
		assigned += quota[i]
	}

	for assigned < total {
		best := -1
		for i := range sizes {
			if quota[i] >= sizes[i] {
				continue
			}
			if best < 0 || rem[i] > rem[best] || (rem[i] == rem[best] && sizes[i] > sizes[best]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		quota[best]++
		rem[best] = -1
		assigned++
	}
	return quota
}
