// Copyright 2025 James Ross
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/optimizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 30720, cfg.Chunker.MaxChunkSize)
	assert.Equal(t, "medium", cfg.Chunker.OptimizationLevel)
	assert.True(t, cfg.Chunker.DetectCircularReferences)
	assert.False(t, cfg.Chunker.CollectMetrics)

	assert.Equal(t, "filesystem", cfg.Storage.Default)
	assert.Equal(t, "md5", cfg.Storage.Filesystem.HashAlgorithm)
	assert.Equal(t, 30*time.Second, cfg.Storage.Filesystem.LockTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Storage.Filesystem.DefaultTTL)
	assert.Equal(t, "chunks:", cfg.Storage.Redis.KeyPrefix)
	assert.Equal(t, 9090, cfg.Observability.MetricsPort)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
chunker:
  max_chunk_size: 8192
  optimization_level: high
storage:
  default: redis
  redis:
    key_prefix: "figma:"
    connection:
      host: redis.internal
      port: 6380
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.Chunker.MaxChunkSize)
	assert.Equal(t, "high", cfg.Chunker.OptimizationLevel)
	assert.Equal(t, "redis", cfg.Storage.Default)
	assert.Equal(t, "figma:", cfg.Storage.Redis.KeyPrefix)
	assert.Equal(t, "redis.internal", cfg.Storage.Redis.Connection.Host)
	assert.Equal(t, 6380, cfg.Storage.Redis.Connection.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		return cfg
	}

	cfg := base()
	cfg.Chunker.MaxChunkSize = 0
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Chunker.OptimizationLevel = "extreme"
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Storage.Default = "s3"
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Storage.Filesystem.HashAlgorithm = "crc32"
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Storage.Redis.Cluster = true
	cfg.Storage.Redis.Nodes = nil
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Observability.MetricsPort = 0
	assert.Error(t, Validate(cfg))
}

func TestChunkerOptions(t *testing.T) {
	cfg := defaultConfig()
	cfg.Chunker.OptimizationLevel = "HIGH"
	opts := cfg.ChunkerOptions()
	assert.Equal(t, optimizer.LevelHigh, opts.OptimizationLevel)
	assert.Equal(t, 30720, opts.MaxChunkSize)
}
