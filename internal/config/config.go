// Package config loads the stream server's YAML configuration file into
// typed structs, one per concern, mirroring how the rest of the corpus
// lays out its config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP/SSE surface (C7).
type ServerConfig struct {
	Address         string `yaml:"address"`
	ShutdownTimeout string `yaml:"shutdownTimeout"`
}

// RedisConfig configures the Event Log and Task Registry's backing
// store (C1/C2). Redis Streams back the event log; JSON string keys
// plus per-thread sorted sets back the task registry.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TaskManagerConfig configures the Task Manager (C5).
type TaskManagerConfig struct {
	MaxConcurrentTasks int    `yaml:"maxConcurrentTasks"`
	ProgressUpdateEvery int   `yaml:"progressUpdateEvery"` // K in §4.3 step 4
	RetentionDays      int    `yaml:"retentionDays"`
	CleanupSchedule    string `yaml:"cleanupSchedule"` // cron expression
}

// EventLogConfig configures the Replayer's read behavior against the
// Event Log (C1/C6). Event streams themselves are retained and
// deleted together with their owning task under TaskManagerConfig's
// RetentionDays (taskmanager.Cleanup deletes both in one pass), so
// there is no separate event-log retention knob here.
type EventLogConfig struct {
	TailBlock      string `yaml:"tailBlock"` // e.g. "1s", per §5 timeouts
	RangeBatchSize int64  `yaml:"rangeBatchSize"`
}

// MongoConfig configures the finalized-task archive (enrichment,
// internal/archive). Zero-value Address means "disabled".
type MongoConfig struct {
	Address    string `yaml:"address"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// MinIOConfig configures the large-payload content store (enrichment,
// internal/contentstore). Zero-value Endpoint means "disabled".
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"accessKey"`
	SecretKey       string `yaml:"secretKey"`
	Bucket          string `yaml:"bucket"`
	Secure          bool   `yaml:"secure"`
	OffloadBytes    int    `yaml:"offloadBytes"` // fields larger than this go to object storage
}

// KafkaConfig configures the task lifecycle audit trail (enrichment,
// internal/audit). Zero-value Brokers means "disabled".
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MetricsConfig configures the Prometheus exposition endpoint
// (enrichment, internal/metrics).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimiterConfig configures the HTTP surface's rate limiting
// middleware.
type RateLimiterConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Algorithm      string               `yaml:"algorithm"`
	FixedWindow    FixedWindowConfig    `yaml:"fixedWindow"`
	SlidingLog     SlidingLogConfig     `yaml:"slidingLog"`
	SlidingCounter SlidingCounterConfig `yaml:"slidingCounter"`
	LeakyBucket    LeakyBucketConfig    `yaml:"leakyBucket"`
	TokenBucket    TokenBucketConfig    `yaml:"tokenBucket"`
}

type FixedWindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

type SlidingLogConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

type SlidingCounterConfig struct {
	Limit      int    `yaml:"limit"`
	Window     string `yaml:"window"`
	NumBuckets int    `yaml:"numBuckets"`
}

type LeakyBucketConfig struct {
	Rate     float64 `yaml:"rate"`
	Capacity int     `yaml:"capacity"`
}

type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"`
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig configures the breaker the HTTP surface's
// circuit-breaking middleware wraps around every request.
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"`
}

// LoggerConfig configures the logrus-backed logger.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// AppConfig is the root of the YAML configuration file.
type AppConfig struct {
	Server         ServerConfig         `yaml:"server"`
	Redis          RedisConfig          `yaml:"redis"`
	TaskManager    TaskManagerConfig    `yaml:"taskManager"`
	EventLog       EventLogConfig       `yaml:"eventLog"`
	Mongo          MongoConfig          `yaml:"mongo"`
	MinIO          MinIOConfig          `yaml:"minio"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
	Logger         LoggerConfig         `yaml:"logger"`
}

// LoadConfig reads and parses the YAML configuration file at path,
// applying defaults for anything left unset.
func LoadConfig(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "10s"
	}
	if cfg.TaskManager.MaxConcurrentTasks <= 0 {
		cfg.TaskManager.MaxConcurrentTasks = 4
	}
	if cfg.TaskManager.ProgressUpdateEvery <= 0 {
		cfg.TaskManager.ProgressUpdateEvery = 10
	}
	if cfg.TaskManager.RetentionDays <= 0 {
		cfg.TaskManager.RetentionDays = 7
	}
	if cfg.TaskManager.CleanupSchedule == "" {
		cfg.TaskManager.CleanupSchedule = "0 0 * * *"
	}
	if cfg.EventLog.TailBlock == "" {
		cfg.EventLog.TailBlock = "1s"
	}
	if cfg.EventLog.RangeBatchSize <= 0 {
		cfg.EventLog.RangeBatchSize = 100
	}
	if cfg.MinIO.OffloadBytes <= 0 {
		cfg.MinIO.OffloadBytes = 32 * 1024
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
}

// ShutdownTimeoutDuration parses Server.ShutdownTimeout, defaulting to
// 10s on a malformed value.
func (c *AppConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// TailBlockDuration parses EventLog.TailBlock, defaulting to 1s on a
// malformed value — the bound named in spec §5 ("tail blocks bounded
// by 1s").
func (c *EventLogConfig) TailBlockDuration() time.Duration {
	d, err := time.ParseDuration(c.TailBlock)
	if err != nil {
		return time.Second
	}
	return d
}
