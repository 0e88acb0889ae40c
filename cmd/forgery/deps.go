package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Brownie44l1/forgery-api/internal/config"
	"github.com/Brownie44l1/forgery-api/internal/detector"
	"github.com/Brownie44l1/forgery-api/internal/imaging"
	"github.com/Brownie44l1/forgery-api/internal/logging"
	"github.com/Brownie44l1/forgery-api/internal/model"
	"github.com/Brownie44l1/forgery-api/internal/storage"
	"github.com/Brownie44l1/forgery-api/internal/training"
)

// app bundles the dependencies shared by all subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Store
	detector *detector.Detector
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	backbone, err := newBackbone(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("backbone ready", zap.String("name", backbone.Name()))

	var cache *detector.VerdictCache
	if cfg.Cache.Enabled {
		cache, err = detector.OpenVerdictCache(detector.CacheConfig{Dir: cfg.Cache.Dir, TTL: cfg.Cache.TTL}, logger)
		if err != nil {
			backbone.Close()
			return nil, err
		}
	}

	d, err := detector.New(store, backbone, detectorConfig(cfg), cache, logger)
	if err != nil {
		backbone.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, detector: d}, nil
}

// loadModel publishes the configured artifact if one exists.
func (a *app) loadModel(ctx context.Context) {
	err := a.detector.LoadModel(ctx, a.cfg.Model.Key)
	switch {
	case err == nil:
		a.logger.Info("model loaded", zap.String("key", a.cfg.Model.Key))
	case errors.Is(err, storage.ErrNotFound):
		a.logger.Warn("no trained model found, serving an untrained head", zap.String("key", a.cfg.Model.Key))
	default:
		a.logger.Error("failed to load model, serving an untrained head", zap.String("key", a.cfg.Model.Key), zap.Error(err))
	}
}

func (a *app) Close() {
	if err := a.detector.Close(); err != nil {
		a.logger.Warn("shutdown", zap.Error(err))
	}
	a.logger.Sync()
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "minio":
		return storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
		})
	default:
		return storage.NewFSStore(cfg.Storage.Root), nil
	}
}

func newBackbone(cfg *config.Config) (model.Backbone, error) {
	switch cfg.Model.Backbone {
	case "onnx":
		b, err := model.NewONNXBackbone(model.ONNXConfig{
			ModelPath:         cfg.Model.ONNXPath,
			MetadataPath:      cfg.Model.MetadataPath,
			SharedLibraryPath: cfg.Model.SharedLibraryPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load ONNX backbone: %w", err)
		}
		return b, nil
	default:
		pc := model.DefaultProjectionConfig()
		pc.InputSize = cfg.Model.ImageSize
		pc.Seed = cfg.Training.Seed
		return model.NewProjectionBackbone(pc)
	}
}

func detectorConfig(cfg *config.Config) detector.Config {
	tc := training.DefaultConfig()
	tc.BatchSize = cfg.Training.BatchSize
	tc.ShuffleBuffer = cfg.Training.ShuffleBuffer
	tc.Seed = cfg.Training.Seed
	tc.Patience = cfg.Training.Patience
	tc.ValFraction = cfg.Training.ValFraction
	tc.Workers = cfg.Training.Workers
	tc.Filter = cfg.Model.Filter
	tc.ArtifactPrefix = cfg.Training.ArtifactPrefix
	tc.ModelKey = cfg.Model.Key
	tc.Model.LearningRate = cfg.Training.LearningRate
	tc.Model.Seed = cfg.Training.Seed

	return detector.Config{
		Training: tc,
		ELA: imaging.ELA{
			LowQuality:  cfg.ELA.LowQuality,
			HighQuality: cfg.ELA.HighQuality,
			Scale:       cfg.ELA.Scale,
		},
	}
}
