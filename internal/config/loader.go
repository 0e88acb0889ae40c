package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads configuration from environment variables and config files.
// path, when non-empty, names an explicit config file that must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("FORGERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/forgery")

		// Ignore error if config file not found
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	// Server
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.MaxUploadBytes = v.GetInt64("server.max_upload_bytes")

	// Logging
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")

	// Storage
	cfg.Storage.Backend = v.GetString("storage.backend")
	cfg.Storage.Root = v.GetString("storage.root")

	// MinIO
	cfg.MinIO.Endpoint = v.GetString("minio.endpoint")
	cfg.MinIO.AccessKey = v.GetString("minio.access_key")
	cfg.MinIO.SecretKey = v.GetString("minio.secret_key")
	cfg.MinIO.UseSSL = v.GetBool("minio.use_ssl")
	cfg.MinIO.Bucket = v.GetString("minio.bucket")
	cfg.MinIO.Enabled = cfg.Storage.Backend == "minio"

	// Model
	cfg.Model.Backbone = v.GetString("model.backbone")
	cfg.Model.Key = v.GetString("model.key")
	cfg.Model.ONNXPath = v.GetString("model.onnx_path")
	cfg.Model.MetadataPath = v.GetString("model.metadata_path")
	cfg.Model.SharedLibraryPath = v.GetString("model.shared_library_path")
	cfg.Model.ImageSize = v.GetInt("model.image_size")
	cfg.Model.Filter = v.GetString("model.filter")

	// Training
	cfg.Training.Epochs = v.GetInt("training.epochs")
	cfg.Training.BatchSize = v.GetInt("training.batch_size")
	cfg.Training.ShuffleBuffer = v.GetInt("training.shuffle_buffer")
	cfg.Training.LearningRate = v.GetFloat64("training.learning_rate")
	cfg.Training.Patience = v.GetInt("training.patience")
	cfg.Training.ValFraction = v.GetFloat64("training.val_fraction")
	cfg.Training.Seed = v.GetInt64("training.seed")
	cfg.Training.Workers = v.GetInt("training.workers")
	cfg.Training.ArtifactPrefix = v.GetString("training.artifact_prefix")

	// ELA
	cfg.ELA.LowQuality = v.GetInt("ela.low_quality")
	cfg.ELA.HighQuality = v.GetInt("ela.high_quality")
	cfg.ELA.Scale = v.GetInt("ela.scale")

	// Verdict cache
	cfg.Cache.Enabled = v.GetBool("cache.enabled")
	cfg.Cache.Dir = v.GetString("cache.dir")
	cfg.Cache.TTL = v.GetDuration("cache.ttl")

	// Validate required fields
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Storage defaults
	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.root", ".")

	// MinIO defaults
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "forgery")

	// Model defaults
	v.SetDefault("model.backbone", "projection")
	v.SetDefault("model.key", "models/forgery_detector.json")
	v.SetDefault("model.onnx_path", "models/resnet50v2_notop.onnx")
	v.SetDefault("model.metadata_path", "models/resnet50v2_notop.json")
	v.SetDefault("model.image_size", 224)
	v.SetDefault("model.filter", "lanczos3")

	// Training defaults
	v.SetDefault("training.epochs", 20)
	v.SetDefault("training.batch_size", 32)
	v.SetDefault("training.shuffle_buffer", 1000)
	v.SetDefault("training.learning_rate", 0.001)
	v.SetDefault("training.patience", 3)
	v.SetDefault("training.val_fraction", 0.2)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.workers", 0)
	v.SetDefault("training.artifact_prefix", "runs")

	// ELA defaults
	v.SetDefault("ela.low_quality", 90)
	v.SetDefault("ela.high_quality", 95)
	v.SetDefault("ela.scale", 10)

	// Verdict cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.ttl", "24h")
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.ELA.LowQuality >= cfg.ELA.HighQuality {
		return fmt.Errorf("invalid config: ela.low_quality (%d) must be below ela.high_quality (%d)",
			cfg.ELA.LowQuality, cfg.ELA.HighQuality)
	}
	return nil
}
