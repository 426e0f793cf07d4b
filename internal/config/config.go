// Package config provides the configuration structure for the music-service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
)

// Environment variables that override the model location at first load.
const (
	EnvModelPath    = "MODEL_PATH"
	EnvModelVersion = "MODEL_VERSION"
)

// Defaults applied when neither the config file nor the environment set a value.
const (
	DefaultModelPath    = "/app/ckpt"
	DefaultModelVersion = "3B"
	DefaultDevice       = "cuda"
	DefaultPrecision    = "bfloat16"
	DefaultEngine       = EngineSubprocess
	DefaultBinaryPath   = "heartmula-generate"
	DefaultJobSubject   = "music.generate"
	DefaultWorkerQueue  = "music-workers"
)

// Supported generation engines.
const (
	EngineSubprocess = "subprocess"
	EngineHTTP       = "http"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobSubject             string `toml:"job_subject"`
	WorkerQueue            string `toml:"worker_queue"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	RequestTimeoutSeconds  int    `toml:"request_timeout_seconds"`
}

// MusicServiceConfig holds the specific configuration for the music service.
type MusicServiceConfig struct {
	Engine            string `toml:"engine"`
	BinaryPath        string `toml:"binary_path"`
	ServiceURL        string `toml:"service_url"`
	ModelPath         string `toml:"model_path"`
	ModelVersion      string `toml:"model_version"`
	Device            string `toml:"device"`
	Precision         string `toml:"precision"`
	ScratchDir        string `toml:"scratch_dir"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	JobTimeoutSeconds int    `toml:"job_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// MetricsConfig holds the configuration for the ops HTTP listener.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig         `toml:"nats"`
	Music   MusicServiceConfig `toml:"music_service"`
	Paths   PathsConfig        `toml:"paths"`
	Metrics MetricsConfig      `toml:"metrics"`
}

// Load loads the configuration for the music-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.JobSubject, DefaultJobSubject)
	setDefault(&c.NATS.WorkerQueue, DefaultWorkerQueue)
	setDefault(&c.Music.Engine, DefaultEngine)
	setDefault(&c.Music.BinaryPath, DefaultBinaryPath)
	setDefault(&c.Music.ModelPath, DefaultModelPath)
	setDefault(&c.Music.ModelVersion, DefaultModelVersion)
	setDefault(&c.Music.Device, DefaultDevice)
	setDefault(&c.Music.Precision, DefaultPrecision)
	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
}

// ModelOptions resolves the pipeline construction parameters. MODEL_PATH and
// MODEL_VERSION take precedence over the file values when set and non-empty.
func (c MusicServiceConfig) ModelOptions(lookupEnv func(string) (string, bool)) core.ModelOptions {
	opts := core.ModelOptions{
		Path:      c.ModelPath,
		Device:    c.Device,
		Precision: c.Precision,
		Version:   c.ModelVersion,
	}

	if value, ok := lookupEnv(EnvModelPath); ok && value != "" {
		opts.Path = value
	}

	if value, ok := lookupEnv(EnvModelVersion); ok && value != "" {
		opts.Version = value
	}

	setDefault(&opts.Path, DefaultModelPath)
	setDefault(&opts.Version, DefaultModelVersion)
	setDefault(&opts.Device, DefaultDevice)
	setDefault(&opts.Precision, DefaultPrecision)

	return opts
}

// Timeout returns the engine call timeout. Zero means no timeout.
func (c MusicServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// JobTimeout returns the per-job deadline applied by the worker. Zero means none.
func (c MusicServiceConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// RequestTimeout returns how long a client waits for a job reply.
func (c NATSConfig) RequestTimeout() time.Duration {
	const defaultRequestTimeout = 10 * time.Minute

	if c.RequestTimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}

	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
