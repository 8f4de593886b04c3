// Copyright 2025 James Ross
package storage

import (
	"context"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

// Adapter is the uniform persistence contract over the pluggable backends.
// Backends differ only in how they realise atomicity and expiry.
//
// Save upserts and must be atomic with respect to concurrent readers.
// Get returns nil on miss or after silent expiry eviction, updating
// lastAccessed as a best-effort side effect (failures logged, not surfaced).
// Delete returns true iff a chunk existed and is now gone.
// List merges the filter with defaults, orders by sortBy/sortDirection and
// truncates by limit. Cleanup deletes every chunk whose expiry has passed
// and returns the eviction count.
type Adapter interface {
	Name() string
	Save(ctx context.Context, c *chunk.Chunk) error
	Get(ctx context.Context, id string) (*chunk.Chunk, error)
	Has(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, f chunk.Filter) ([]chunk.Summary, error)
	Cleanup(ctx context.Context) (int, error)
	Close() error
}

// BulkWriter is implemented by adapters that can persist a batch in one
// backend operation. An empty batch is a no-op.
type BulkWriter interface {
	BulkSave(ctx context.Context, chunks []*chunk.Chunk) error
}

// Aggregator is implemented by adapters that forward opaque aggregation
// pipelines to their backend.
type Aggregator interface {
	Aggregate(ctx context.Context, pipeline any) ([]map[string]any, error)
}

// RetryStrategy bounds reconnect attempts for networked adapters.
type RetryStrategy struct {
	MaxRetryCount int           `json:"max_retry_count" yaml:"max_retry_count" mapstructure:"max_retry_count"`
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval" mapstructure:"retry_interval"`
}
