// Copyright 2025 James Ross
package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/flyingrobots/go-design-chunk-cache/internal/obs"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const adapterNameFilesystem = "filesystem"

// FilesystemConfig configures the filesystem adapter.
type FilesystemConfig struct {
	BasePath        string        `json:"base_path" yaml:"base_path" mapstructure:"base_path"`
	UseLocks        bool          `json:"use_locks" yaml:"use_locks" mapstructure:"use_locks"`
	LockTimeout     time.Duration `json:"lock_timeout" yaml:"lock_timeout" mapstructure:"lock_timeout"`
	DefaultTTL      time.Duration `json:"default_ttl" yaml:"default_ttl" mapstructure:"default_ttl"`
	HashAlgorithm   string        `json:"hash_algorithm" yaml:"hash_algorithm" mapstructure:"hash_algorithm"`
	CleanupOnStart  bool          `json:"cleanup_on_start" yaml:"cleanup_on_start" mapstructure:"cleanup_on_start"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

func (c *FilesystemConfig) withDefaults() {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = "md5"
	}
}

// FilesystemAdapter persists chunks as JSON files under hashed shard
// directories: <base>/<hash(id)[:2]>/<hash(id)>.json. Writes go through a
// temp file and rename; optional sibling lock files serialize concurrent
// writers to the same id.
type FilesystemAdapter struct {
	cfg  FilesystemConfig
	log  *zap.Logger
	cron *cron.Cron
}

// NewFilesystemAdapter validates the configuration, prepares the base
// directory and starts the optional cleanup schedule.
func NewFilesystemAdapter(cfg FilesystemConfig, log *zap.Logger) (*FilesystemAdapter, error) {
	cfg.withDefaults()
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("%w: filesystem adapter requires base_path", chunk.ErrInvalidInput)
	}
	switch cfg.HashAlgorithm {
	case "md5", "sha1", "sha256":
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", chunk.ErrInvalidInput, cfg.HashAlgorithm)
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, NewAdapterError(adapterNameFilesystem, "init", "", fmt.Errorf("%w: %v", ErrPermanent, err))
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &FilesystemAdapter{cfg: cfg, log: log}

	if cfg.CleanupOnStart {
		if _, err := a.Cleanup(context.Background()); err != nil {
			log.Warn("startup cleanup failed", zap.Error(err))
		}
	}
	if cfg.CleanupInterval > 0 {
		a.cron = cron.New()
		a.cron.AddFunc(fmt.Sprintf("@every %s", cfg.CleanupInterval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := a.Cleanup(ctx); err != nil {
				a.log.Warn("periodic cleanup failed", zap.Error(err))
			}
		})
		a.cron.Start()
	}
	return a, nil
}

func (a *FilesystemAdapter) Name() string { return adapterNameFilesystem }

func (a *FilesystemAdapter) hashID(id string) string {
	var h hash.Hash
	switch a.cfg.HashAlgorithm {
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		h = md5.New()
	}
	io.WriteString(h, id)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *FilesystemAdapter) chunkPath(id string) string {
	sum := a.hashID(id)
	return filepath.Join(a.cfg.BasePath, sum[:2], sum+".json")
}

// Save upserts the chunk. The default TTL is applied to the persisted copy
// when the chunk carries no expiry; the caller's value is never mutated.
func (a *FilesystemAdapter) Save(ctx context.Context, c *chunk.Chunk) error {
	err := a.save(ctx, c)
	obs.RecordStorageOp(adapterNameFilesystem, "save", err)
	return err
}

func (a *FilesystemAdapter) save(ctx context.Context, c *chunk.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *c
	if stored.Expires == nil && a.cfg.DefaultTTL > 0 {
		expires := stored.Created.Add(a.cfg.DefaultTTL)
		stored.Expires = &expires
	}
	payload, err := EncodeChunk(&stored)
	if err != nil {
		return NewAdapterError(adapterNameFilesystem, "save", c.ID, err)
	}

	path := a.chunkPath(c.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewAdapterError(adapterNameFilesystem, "save", c.ID, fmt.Errorf("%w: %v", ErrTransient, err))
	}

	unlock := a.lock(path)
	defer unlock()

	if err := writeAtomic(path, payload); err != nil {
		return NewAdapterError(adapterNameFilesystem, "save", c.ID, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return nil
}

// Get returns the chunk, evicting it silently when expired. The
// lastAccessed touch is best effort.
func (a *FilesystemAdapter) Get(ctx context.Context, id string) (*chunk.Chunk, error) {
	c, err := a.get(ctx, id)
	obs.RecordStorageOp(adapterNameFilesystem, "get", err)
	return c, err
}

func (a *FilesystemAdapter) get(ctx context.Context, id string) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := a.chunkPath(id)
	payload, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, NewAdapterError(adapterNameFilesystem, "get", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}

	c, err := DecodeChunk(payload)
	if err != nil {
		a.log.Warn("corrupt chunk payload", zap.String("chunk_id", id), zap.String("path", path), zap.Error(err))
		return nil, nil
	}

	if c.Expired(time.Now()) {
		a.evict(path)
		obs.ChunksEvicted.WithLabelValues(adapterNameFilesystem).Inc()
		return nil, nil
	}

	// Touch lastAccessed; a failed touch is logged, not surfaced.
	touched := *c
	touched.LastAccessed = chunk.Now()
	if rewritten, err := EncodeChunk(&touched); err == nil {
		if err := writeAtomic(path, rewritten); err != nil {
			a.log.Warn("failed to update lastAccessed", zap.String("chunk_id", id), zap.Error(err))
		} else {
			c.LastAccessed = touched.LastAccessed
		}
	}
	return c, nil
}

func (a *FilesystemAdapter) Has(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(a.chunkPath(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, NewAdapterError(adapterNameFilesystem, "has", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return true, nil
}

func (a *FilesystemAdapter) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := a.chunkPath(id)
	unlock := a.lock(path)
	defer unlock()

	err := os.Remove(path)
	obs.RecordStorageOp(adapterNameFilesystem, "delete", nil)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, NewAdapterError(adapterNameFilesystem, "delete", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return true, nil
}

// List reads every non-lock JSON file, applies the filter, sorts and
// truncates.
func (a *FilesystemAdapter) List(ctx context.Context, f chunk.Filter) ([]chunk.Summary, error) {
	chunks, err := a.readAll(ctx)
	obs.RecordStorageOp(adapterNameFilesystem, "list", err)
	if err != nil {
		return nil, err
	}
	return f.Apply(chunks, time.Now()), nil
}

// Cleanup evicts every expired chunk, then removes empty shard directories.
// Per-file failures are logged and skipped.
func (a *FilesystemAdapter) Cleanup(ctx context.Context) (int, error) {
	obs.CleanupSweeps.WithLabelValues(adapterNameFilesystem).Inc()
	now := time.Now()
	removed := 0

	err := filepath.WalkDir(a.cfg.BasePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			a.log.Warn("cleanup: unreadable file", zap.String("path", path), zap.Error(err))
			return nil
		}
		c, err := DecodeChunk(payload)
		if err != nil {
			a.log.Warn("cleanup: corrupt file", zap.String("path", path), zap.Error(err))
			return nil
		}
		if c.Expired(now) {
			a.evict(path)
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, NewAdapterError(adapterNameFilesystem, "cleanup", "", err)
	}

	a.removeEmptyShards()
	obs.ChunksEvicted.WithLabelValues(adapterNameFilesystem).Add(float64(removed))
	return removed, nil
}

func (a *FilesystemAdapter) Close() error {
	if a.cron != nil {
		a.cron.Stop()
	}
	return nil
}

func (a *FilesystemAdapter) readAll(ctx context.Context) ([]*chunk.Chunk, error) {
	var chunks []*chunk.Chunk
	err := filepath.WalkDir(a.cfg.BasePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			a.log.Warn("list: unreadable file", zap.String("path", path), zap.Error(err))
			return nil
		}
		c, err := DecodeChunk(payload)
		if err != nil {
			a.log.Warn("list: corrupt file", zap.String("path", path), zap.Error(err))
			return nil
		}
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		return nil, NewAdapterError(adapterNameFilesystem, "list", "", err)
	}
	return chunks, nil
}

func (a *FilesystemAdapter) evict(path string) {
	unlock := a.lock(path)
	defer unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		a.log.Warn("failed to evict expired chunk", zap.String("path", path), zap.Error(err))
	}
}

func (a *FilesystemAdapter) removeEmptyShards() {
	entries, err := os.ReadDir(a.cfg.BasePath)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(a.cfg.BasePath, e.Name())
		if contents, err := os.ReadDir(dir); err == nil && len(contents) == 0 {
			os.Remove(dir)
		}
	}
}

// lock acquires the sibling lock file when locking is enabled and returns
// the release func. A stale lock (older than the lock timeout) is forcibly
// reclaimed. When acquisition fails the operation proceeds without the lock
// and a warning is logged: availability over exclusivity.
func (a *FilesystemAdapter) lock(path string) func() {
	if !a.cfg.UseLocks {
		return func() {}
	}
	lockPath := path + ".lock"
	if err := a.acquireLock(lockPath); err != nil {
		a.log.Warn("proceeding without lock", zap.String("lock", lockPath), zap.Error(err))
		return func() {}
	}
	return func() {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			a.log.Warn("failed to release lock", zap.String("lock", lockPath), zap.Error(err))
		}
	}
}

type lockInfo struct {
	Timestamp int64 `json:"timestamp"`
	PID       int   `json:"pid"`
}

func (a *FilesystemAdapter) acquireLock(lockPath string) error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			payload, _ := json.Marshal(lockInfo{Timestamp: time.Now().UnixMilli(), PID: os.Getpid()})
			f.Write(payload)
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		info, statErr := os.Stat(lockPath)
		if statErr != nil {
			// Holder released between our attempts; retry.
			continue
		}
		if time.Since(info.ModTime()) > a.cfg.LockTimeout {
			os.Remove(lockPath)
			continue
		}
		return ErrLockUnavailable
	}
	return ErrLockUnavailable
}

// writeAtomic writes to a temp sibling then renames over the target,
// falling back to copy+unlink when rename crosses filesystem boundaries.
func writeAtomic(path string, payload []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(tmp)
}
