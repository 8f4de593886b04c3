// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunker"
	"github.com/flyingrobots/go-design-chunk-cache/internal/optimizer"
	"github.com/flyingrobots/go-design-chunk-cache/internal/storage"
	"github.com/spf13/viper"
)

type Chunker struct {
	MaxChunkSize             int    `mapstructure:"max_chunk_size"`
	OptimizationLevel        string `mapstructure:"optimization_level"`
	CollectMetrics           bool   `mapstructure:"collect_metrics"`
	DetectCircularReferences bool   `mapstructure:"detect_circular_references"`
	Debug                    bool   `mapstructure:"debug"`
}

type Storage struct {
	Default    string                   `mapstructure:"default"`
	Filesystem storage.FilesystemConfig `mapstructure:"filesystem"`
	Redis      storage.RedisConfig      `mapstructure:"redis"`
	Mongo      storage.MongoConfig      `mapstructure:"mongo"`
}

type Observability struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
}

type Config struct {
	Chunker       Chunker       `mapstructure:"chunker"`
	Storage       Storage       `mapstructure:"storage"`
	Observability Observability `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Chunker: Chunker{
			MaxChunkSize:             chunker.DefaultMaxChunkSize,
			OptimizationLevel:        string(optimizer.LevelMedium),
			CollectMetrics:           false,
			DetectCircularReferences: true,
		},
		Storage: Storage{
			Default: "filesystem",
			Filesystem: storage.FilesystemConfig{
				BasePath:      "./data/chunks",
				UseLocks:      true,
				LockTimeout:   30 * time.Second,
				DefaultTTL:    24 * time.Hour,
				HashAlgorithm: "md5",
			},
			Redis: storage.RedisConfig{
				Connection: storage.RedisConnection{Host: "localhost", Port: 6379},
				KeyPrefix:  "chunks:",
				DefaultTTL: 24 * time.Hour,
				Retry:      storage.RetryStrategy{MaxRetryCount: 3, RetryInterval: 500 * time.Millisecond},
			},
			Mongo: storage.MongoConfig{
				Database:   "chunkcache",
				Collection: "chunks",
				DefaultTTL: 24 * time.Hour,
				Retry:      storage.RetryStrategy{MaxRetryCount: 3, RetryInterval: 500 * time.Millisecond},
			},
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
		},
	}
}

// Load reads configuration from YAML file and env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("chunker.max_chunk_size", def.Chunker.MaxChunkSize)
	v.SetDefault("chunker.optimization_level", def.Chunker.OptimizationLevel)
	v.SetDefault("chunker.collect_metrics", def.Chunker.CollectMetrics)
	v.SetDefault("chunker.detect_circular_references", def.Chunker.DetectCircularReferences)
	v.SetDefault("chunker.debug", def.Chunker.Debug)

	v.SetDefault("storage.default", def.Storage.Default)
	v.SetDefault("storage.filesystem.base_path", def.Storage.Filesystem.BasePath)
	v.SetDefault("storage.filesystem.use_locks", def.Storage.Filesystem.UseLocks)
	v.SetDefault("storage.filesystem.lock_timeout", def.Storage.Filesystem.LockTimeout)
	v.SetDefault("storage.filesystem.default_ttl", def.Storage.Filesystem.DefaultTTL)
	v.SetDefault("storage.filesystem.hash_algorithm", def.Storage.Filesystem.HashAlgorithm)
	v.SetDefault("storage.filesystem.cleanup_on_start", def.Storage.Filesystem.CleanupOnStart)
	v.SetDefault("storage.filesystem.cleanup_interval", def.Storage.Filesystem.CleanupInterval)

	v.SetDefault("storage.redis.connection.host", def.Storage.Redis.Connection.Host)
	v.SetDefault("storage.redis.connection.port", def.Storage.Redis.Connection.Port)
	v.SetDefault("storage.redis.connection.db", def.Storage.Redis.Connection.DB)
	v.SetDefault("storage.redis.key_prefix", def.Storage.Redis.KeyPrefix)
	v.SetDefault("storage.redis.default_ttl", def.Storage.Redis.DefaultTTL)
	v.SetDefault("storage.redis.retry_strategy.max_retry_count", def.Storage.Redis.Retry.MaxRetryCount)
	v.SetDefault("storage.redis.retry_strategy.retry_interval", def.Storage.Redis.Retry.RetryInterval)

	v.SetDefault("storage.mongo.database", def.Storage.Mongo.Database)
	v.SetDefault("storage.mongo.collection", def.Storage.Mongo.Collection)
	v.SetDefault("storage.mongo.default_ttl", def.Storage.Mongo.DefaultTTL)
	v.SetDefault("storage.mongo.retry_strategy.max_retry_count", def.Storage.Mongo.Retry.MaxRetryCount)
	v.SetDefault("storage.mongo.retry_strategy.retry_interval", def.Storage.Mongo.Retry.RetryInterval)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_file", def.Observability.LogFile)

	// Optional file read
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Chunker.MaxChunkSize < 1 {
		return fmt.Errorf("chunker.max_chunk_size must be >= 1")
	}
	if _, err := optimizer.ParseLevel(cfg.Chunker.OptimizationLevel); err != nil {
		return fmt.Errorf("chunker.optimization_level: %w", err)
	}
	switch cfg.Storage.Default {
	case "filesystem", "redis", "mongo":
	default:
		return fmt.Errorf("storage.default must be one of filesystem|redis|mongo")
	}
	switch cfg.Storage.Filesystem.HashAlgorithm {
	case "md5", "sha1", "sha256":
	default:
		return fmt.Errorf("storage.filesystem.hash_algorithm must be md5|sha1|sha256")
	}
	if cfg.Storage.Redis.Cluster && len(cfg.Storage.Redis.Nodes) == 0 {
		return fmt.Errorf("storage.redis.nodes must be non-empty in cluster mode")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}

// ChunkerOptions converts the config block into chunker options.
func (c *Config) ChunkerOptions() chunker.Options {
	level, _ := optimizer.ParseLevel(c.Chunker.OptimizationLevel)
	return chunker.Options{
		MaxChunkSize:             c.Chunker.MaxChunkSize,
		Debug:                    c.Chunker.Debug,
		OptimizationLevel:        level,
		CollectMetrics:           c.Chunker.CollectMetrics,
		DetectCircularReferences: c.Chunker.DetectCircularReferences,
	}
}
