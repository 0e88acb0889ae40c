// Package config loads forgery-api settings from defaults, an optional
// config.yaml and FORGERY_* environment variables.
package config

import "time"

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	MinIO    MinIOConfig
	Model    ModelConfig
	Training TrainingConfig
	ELA      ELAConfig
	Cache    CacheConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
	// MaxUploadBytes bounds request bodies on the analyze endpoints.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"min=1"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// StorageConfig selects where datasets are read from and artifacts written to.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=fs minio"`
	// Root anchors relative keys for the fs backend.
	Root string `mapstructure:"root"`
}

// MinIOConfig holds MinIO configuration
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	// Enabled mirrors Storage.Backend == "minio" for validation.
	Enabled bool `mapstructure:"-"`
}

// ModelConfig selects the backbone and the artifact to serve.
type ModelConfig struct {
	Backbone string `mapstructure:"backbone" validate:"oneof=onnx projection"`
	// Key is the store key of the artifact loaded at startup and written after training.
	Key               string `mapstructure:"key" validate:"required"`
	ONNXPath          string `mapstructure:"onnx_path" validate:"required_if=Backbone onnx"`
	MetadataPath      string `mapstructure:"metadata_path" validate:"required_if=Backbone onnx"`
	SharedLibraryPath string `mapstructure:"shared_library_path"`
	ImageSize         int    `mapstructure:"image_size" validate:"min=1"`
	Filter            string `mapstructure:"filter" validate:"oneof=nearest bilinear bicubic lanczos3"`
}

// TrainingConfig holds training run settings
type TrainingConfig struct {
	Epochs         int     `mapstructure:"epochs" validate:"min=1"`
	BatchSize      int     `mapstructure:"batch_size" validate:"min=1"`
	ShuffleBuffer  int     `mapstructure:"shuffle_buffer" validate:"min=1"`
	LearningRate   float64 `mapstructure:"learning_rate" validate:"gt=0"`
	Patience       int     `mapstructure:"patience" validate:"min=0"`
	ValFraction    float64 `mapstructure:"val_fraction" validate:"gt=0,lt=1"`
	Seed           int64   `mapstructure:"seed"`
	Workers        int     `mapstructure:"workers" validate:"min=0"`
	ArtifactPrefix string  `mapstructure:"artifact_prefix" validate:"required"`
}

// ELAConfig holds Error Level Analysis settings
type ELAConfig struct {
	LowQuality  int `mapstructure:"low_quality" validate:"min=1,max=100"`
	HighQuality int `mapstructure:"high_quality" validate:"min=1,max=100"`
	Scale       int `mapstructure:"scale" validate:"min=1"`
}

// CacheConfig holds verdict cache configuration
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Dir     string        `mapstructure:"dir"`
	TTL     time.Duration `mapstructure:"ttl"`
}
