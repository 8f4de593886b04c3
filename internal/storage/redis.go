// Copyright 2025 James Ross
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/flyingrobots/go-design-chunk-cache/internal/obs"
	"github.com/flyingrobots/go-design-chunk-cache/internal/redisclient"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const adapterNameRedis = "redis"

// RedisConnection is the single-node connection block.
type RedisConnection struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
}

// RedisConfig configures the key-value adapter. Cluster mode uses Nodes
// instead of the single connection.
type RedisConfig struct {
	Connection      RedisConnection `json:"connection" yaml:"connection" mapstructure:"connection"`
	Nodes           []string        `json:"nodes" yaml:"nodes" mapstructure:"nodes"`
	Cluster         bool            `json:"cluster" yaml:"cluster" mapstructure:"cluster"`
	KeyPrefix       string          `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
	DefaultTTL      time.Duration   `json:"default_ttl" yaml:"default_ttl" mapstructure:"default_ttl"`
	ConnectTimeout  time.Duration   `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	CommandTimeout  time.Duration   `json:"command_timeout" yaml:"command_timeout" mapstructure:"command_timeout"`
	Retry           RetryStrategy   `json:"retry_strategy" yaml:"retry_strategy" mapstructure:"retry_strategy"`
	CleanupOnStart  bool            `json:"cleanup_on_start" yaml:"cleanup_on_start" mapstructure:"cleanup_on_start"`
	CleanupInterval time.Duration   `json:"cleanup_interval" yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

func (c *RedisConfig) withDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "chunks:"
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	if c.Retry.MaxRetryCount <= 0 {
		c.Retry.MaxRetryCount = 3
	}
	if c.Retry.RetryInterval <= 0 {
		c.Retry.RetryInterval = 500 * time.Millisecond
	}
}

// RedisAdapter stores chunk payloads under <prefix><id> with the backend's
// TTL as the expiry mechanism, plus three index sets: a global index, a
// per-type set and a per-file set. The payload is the source of truth;
// cleanup prunes global and per-type index entries whose payload is gone,
// while per-file sets keep such entries and List skips them.
type RedisAdapter struct {
	cfg RedisConfig
	log *zap.Logger

	connectMu sync.Mutex
	client    redis.UniversalClient
	cron      *cron.Cron
}

// NewRedisAdapter prepares the adapter; the connection itself is lazy.
func NewRedisAdapter(cfg RedisConfig, log *zap.Logger) *RedisAdapter {
	cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	a := &RedisAdapter{cfg: cfg, log: log}

	if cfg.CleanupOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if _, err := a.Cleanup(ctx); err != nil {
			log.Warn("startup cleanup failed", zap.Error(err))
		}
		cancel()
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
	return a
}

func (a *RedisAdapter) Name() string { return adapterNameRedis }

// ensureConnected dials lazily with a single in-flight connect and bounded
// retries per the configured strategy.
func (a *RedisAdapter) ensureConnected(ctx context.Context) (redis.UniversalClient, error) {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	if a.client != nil {
		return a.client, nil
	}

	addrs := a.cfg.Nodes
	if !a.cfg.Cluster {
		addrs = []string{fmt.Sprintf("%s:%d", a.cfg.Connection.Host, a.cfg.Connection.Port)}
	}
	client := redisclient.New(redisclient.Options{
		Addrs:          addrs,
		Username:       a.cfg.Connection.Username,
		Password:       a.cfg.Connection.Password,
		DB:             a.cfg.Connection.DB,
		Cluster:        a.cfg.Cluster,
		ConnectTimeout: a.cfg.ConnectTimeout,
		CommandTimeout: a.cfg.CommandTimeout,
	})

	var lastErr error
	for attempt := 0; attempt <= a.cfg.Retry.MaxRetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			case <-time.After(a.cfg.Retry.RetryInterval):
			}
		}
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			a.client = client
			return client, nil
		}
	}
	client.Close()
	return nil, NewAdapterError(adapterNameRedis, "connect", "", fmt.Errorf("%w: %v", ErrNotConnected, lastErr))
}

func (a *RedisAdapter) payloadKey(id string) string   { return a.cfg.KeyPrefix + id }
func (a *RedisAdapter) indexKey() string              { return a.cfg.KeyPrefix + "index" }
func (a *RedisAdapter) typeKey(t chunk.Type) string   { return a.cfg.KeyPrefix + "type:" + string(t) }
func (a *RedisAdapter) fileKey(fileKey string) string { return a.cfg.KeyPrefix + "file:" + fileKey }

func (a *RedisAdapter) ttlFor(c *chunk.Chunk, now time.Time) time.Duration {
	if c.Expires != nil {
		ttl := c.Expires.Sub(now)
		if ttl <= 0 {
			return time.Second
		}
		// Round up to whole seconds the way SETEX would.
		return (ttl + time.Second - 1) / time.Second * time.Second
	}
	return a.cfg.DefaultTTL
}

// writePipeline issues the payload SET with TTL plus the three index SADDs
// as one pipelined transaction.
func (a *RedisAdapter) writePipeline(ctx context.Context, client redis.UniversalClient, c *chunk.Chunk) error {
	payload, err := EncodeChunk(c)
	if err != nil {
		return err
	}
	pipe := client.TxPipeline()
	pipe.Set(ctx, a.payloadKey(c.ID), payload, a.ttlFor(c, time.Now()))
	pipe.SAdd(ctx, a.indexKey(), c.ID)
	pipe.SAdd(ctx, a.typeKey(c.Type), c.ID)
	pipe.SAdd(ctx, a.fileKey(c.FileKey), c.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (a *RedisAdapter) Save(ctx context.Context, c *chunk.Chunk) error {
	err := a.save(ctx, c)
	obs.RecordStorageOp(adapterNameRedis, "save", err)
	return err
}

func (a *RedisAdapter) save(ctx context.Context, c *chunk.Chunk) error {
	client, err := a.ensureConnected(ctx)
	if err != nil {
		return err
	}
	if err := a.writePipeline(ctx, client, c); err != nil {
		return NewAdapterError(adapterNameRedis, "save", c.ID, err)
	}
	return nil
}

func (a *RedisAdapter) Get(ctx context.Context, id string) (*chunk.Chunk, error) {
	c, err := a.get(ctx, id)
	obs.RecordStorageOp(adapterNameRedis, "get", err)
	return c, err
}

func (a *RedisAdapter) get(ctx context.Context, id string) (*chunk.Chunk, error) {
	client, err := a.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := client.Get(ctx, a.payloadKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, NewAdapterError(adapterNameRedis, "get", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}

	c, err := DecodeChunk(payload)
	if err != nil {
		a.log.Warn("corrupt chunk payload", zap.String("chunk_id", id), zap.Error(err))
		return nil, nil
	}
	if c.Expired(time.Now()) {
		if _, err := a.delete(ctx, client, id); err != nil {
			a.log.Warn("failed to evict expired chunk", zap.String("chunk_id", id), zap.Error(err))
		}
		obs.ChunksEvicted.WithLabelValues(adapterNameRedis).Inc()
		return nil, nil
	}

	// Touch lastAccessed and refresh the TTL; failures are logged only.
	c.LastAccessed = chunk.Now()
	if err := a.writePipeline(ctx, client, c); err != nil {
		a.log.Warn("failed to update lastAccessed", zap.String("chunk_id", id), zap.Error(err))
	}
	return c, nil
}

func (a *RedisAdapter) Has(ctx context.Context, id string) (bool, error) {
	client, err := a.ensureConnected(ctx)
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, a.payloadKey(id)).Result()
	if err != nil {
		return false, NewAdapterError(adapterNameRedis, "has", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return n > 0, nil
}

func (a *RedisAdapter) Delete(ctx context.Context, id string) (bool, error) {
	client, err := a.ensureConnected(ctx)
	if err != nil {
		return false, err
	}
	existed, err := a.delete(ctx, client, id)
	obs.RecordStorageOp(adapterNameRedis, "delete", err)
	if err != nil {
		return false, NewAdapterError(adapterNameRedis, "delete", id, err)
	}
	return existed, nil
}

// delete reads the payload first to learn type and fileKey, then pipelines
// the DEL with the three SREMs.
func (a *RedisAdapter) delete(ctx context.Context, client redis.UniversalClient, id string) (bool, error) {
	payload, err := client.Get(ctx, a.payloadKey(id)).Bytes()
	if err == redis.Nil {
		// Payload already gone; still clear the global index entry.
		client.SRem(ctx, a.indexKey(), id)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, a.payloadKey(id))
	pipe.SRem(ctx, a.indexKey(), id)
	if c, decodeErr := DecodeChunk(payload); decodeErr == nil {
		pipe.SRem(ctx, a.typeKey(c.Type), id)
		pipe.SRem(ctx, a.fileKey(c.FileKey), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return true, nil
}

// List picks the narrowest index (fileKey over type over global), bulk
// fetches payloads and filters in memory.
func (a *RedisAdapter) List(ctx context.Context, f chunk.Filter) ([]chunk.Summary, error) {
	client, err := a.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	f = f.WithDefaults()

	indexKey := a.indexKey()
	if f.FileKey != "" {
		indexKey = a.fileKey(f.FileKey)
	} else if f.Type != "" {
		indexKey = a.typeKey(f.Type)
	}
	ids, err := client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, NewAdapterError(adapterNameRedis, "list", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}
	if len(ids) == 0 {
		return []chunk.Summary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = a.payloadKey(id)
	}
	payloads, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, NewAdapterError(adapterNameRedis, "list", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}

	chunks := make([]*chunk.Chunk, 0, len(payloads))
	for _, raw := range payloads {
		s, ok := raw.(string)
		if !ok {
			continue // Evicted by the backend; cleanup prunes the index.
		}
		c, err := DecodeChunk([]byte(s))
		if err != nil {
			a.log.Warn("corrupt chunk payload in listing", zap.Error(err))
			continue
		}
		chunks = append(chunks, c)
	}
	return f.Apply(chunks, time.Now()), nil
}

// Cleanup walks the global index, evicting chunks whose expiry passed and
// pruning index entries whose payload the backend already dropped.
func (a *RedisAdapter) Cleanup(ctx context.Context) (int, error) {
	obs.CleanupSweeps.WithLabelValues(adapterNameRedis).Inc()
	client, err := a.ensureConnected(ctx)
	if err != nil {
		return 0, err
	}
	ids, err := client.SMembers(ctx, a.indexKey()).Result()
	if err != nil {
		return 0, NewAdapterError(adapterNameRedis, "cleanup", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}

	now := time.Now()
	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		payload, err := client.Get(ctx, a.payloadKey(id)).Bytes()
		if err == redis.Nil {
			// TTL already evicted the payload; indices are re-derivable.
			client.SRem(ctx, a.indexKey(), id)
			for _, t := range chunk.KnownTypes() {
				client.SRem(ctx, a.typeKey(t), id)
			}
			continue
		}
		if err != nil {
			a.log.Warn("cleanup: fetch failed", zap.String("chunk_id", id), zap.Error(err))
			continue
		}
		c, err := DecodeChunk(payload)
		if err != nil {
			a.log.Warn("cleanup: corrupt payload", zap.String("chunk_id", id), zap.Error(err))
			continue
		}
		if c.Expired(now) {
			if _, err := a.delete(ctx, client, id); err != nil {
				a.log.Warn("cleanup: evict failed", zap.String("chunk_id", id), zap.Error(err))
				continue
			}
			removed++
		}
	}
	obs.ChunksEvicted.WithLabelValues(adapterNameRedis).Add(float64(removed))
	return removed, nil
}

func (a *RedisAdapter) Close() error {
	if a.cron != nil {
		a.cron.Stop()
	}
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	if a.client != nil {
		err := a.client.Close()
		a.client = nil
		return err
	}
	return nil
}
