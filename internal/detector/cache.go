package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Brownie44l1/forgery-api/internal/model"
)

// CacheConfig configures the verdict cache.
type CacheConfig struct {
	// Dir is the badger directory; empty keeps the cache in memory.
	Dir string
	// TTL bounds how long a verdict is kept. Zero keeps entries until the
	// snapshot they belong to is replaced and they age out of use.
	TTL time.Duration
}

// VerdictCache remembers verdicts per (snapshot, image digest). Verdicts
// from a different snapshot never match because the snapshot id is part of
// the key.
type VerdictCache struct {
	db  *badger.DB
	ttl time.Duration
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenVerdictCache opens or creates the cache. A nil logger silences badger.
func OpenVerdictCache(cfg CacheConfig, logger *zap.Logger) (*VerdictCache, error) {
	var opts badger.Options
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open verdict cache: %w", err)
	}
	return &VerdictCache{db: db, ttl: cfg.TTL}, nil
}

// cacheKey scopes verdicts to the model weights, so entries survive a restart
// that reloads the same artifact.
func cacheKey(modelDigest, digest string) []byte {
	return []byte("verdict/" + modelDigest + "/" + digest)
}

type cachedVerdict struct {
	IsForged   bool    `json:"is_forged"`
	Confidence float64 `json:"confidence"`
}

// Get returns the cached verdict, if any. SnapshotID is left for the caller to fill.
func (c *VerdictCache) Get(modelDigest, digest string) (model.AnalysisResult, bool, error) {
	var v cachedVerdict
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(modelDigest, digest))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.AnalysisResult{}, false, nil
	}
	if err != nil {
		return model.AnalysisResult{}, false, fmt.Errorf("read verdict: %w", err)
	}
	return model.AnalysisResult{IsForged: v.IsForged, Confidence: v.Confidence}, true, nil
}

// Put stores the verdict part of r. ELA images are not cached.
func (c *VerdictCache) Put(modelDigest, digest string, r model.AnalysisResult) error {
	val, err := json.Marshal(cachedVerdict{IsForged: r.IsForged, Confidence: r.Confidence})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(cacheKey(modelDigest, digest), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Close flushes and closes the underlying database.
func (c *VerdictCache) Close() error {
	return c.db.Close()
}
