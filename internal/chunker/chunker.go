// Copyright 2025 James Ross
package chunker

import (
	"fmt"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/flyingrobots/go-design-chunk-cache/internal/metrics"
	"github.com/flyingrobots/go-design-chunk-cache/internal/obs"
	"github.com/flyingrobots/go-design-chunk-cache/internal/optimizer"
	"github.com/flyingrobots/go-design-chunk-cache/internal/refgraph"
	"github.com/flyingrobots/go-design-chunk-cache/internal/strategy"
	"go.uber.org/zap"
)

// Options configures the chunker.
type Options struct {
	MaxChunkSize             int             `json:"maxChunkSize"`
	Debug                    bool            `json:"debug"`
	OptimizationLevel        optimizer.Level `json:"optimizationLevel"`
	CollectMetrics           bool            `json:"collectMetrics"`
	DetectCircularReferences bool            `json:"detectCircularReferences"`
}

// DefaultMaxChunkSize is the byte budget applied when none is configured.
const DefaultMaxChunkSize = 30720

// DefaultOptions returns the documented configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxChunkSize:             DefaultMaxChunkSize,
		OptimizationLevel:        optimizer.LevelMedium,
		CollectMetrics:           false,
		DetectCircularReferences: true,
	}
}

// Chunker orchestrates type detection, strategy dispatch, reference-graph
// registration, optimization and metrics for one logical document source.
// A Chunker performs no I/O; instances hold the shared reference graph and
// metrics collector, which are not safe for concurrent use.
type Chunker struct {
	opts       Options
	strategies map[chunk.Type]strategy.Strategy
	graph      *refgraph.Graph
	collector  *metrics.Collector
	optimizer  *optimizer.Optimizer
	log        *zap.Logger
}

// New builds a chunker with the three standard strategies registered.
func New(opts Options, log *zap.Logger) *Chunker {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.OptimizationLevel == "" {
		opts.OptimizationLevel = optimizer.LevelMedium
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Chunker{
		opts:       opts,
		strategies: make(map[chunk.Type]strategy.Strategy),
		graph:      refgraph.New(),
		collector:  metrics.NewCollector(),
		optimizer:  optimizer.New(opts.MaxChunkSize),
		log:        log,
	}
	c.RegisterStrategy(strategy.NodeStrategy{})
	c.RegisterStrategy(strategy.MetadataStrategy{})
	c.RegisterStrategy(strategy.GlobalVarsStrategy{})
	return c
}

// RegisterStrategy installs or replaces the strategy for its type.
func (c *Chunker) RegisterStrategy(s strategy.Strategy) {
	c.strategies[s.Type()] = s
}

// Graph exposes the shared reference graph.
func (c *Chunker) Graph() *refgraph.Graph {
	return c.graph
}

// Metrics exposes the shared metrics collector.
func (c *Chunker) Metrics() *metrics.Collector {
	return c.collector
}

// Chunk auto-detects the payload type and dispatches to the matching
// strategy.
func (c *Chunker) Chunk(data any, fileKey string) (*chunk.Result, error) {
	t, payload := DetectType(data)
	return c.ChunkTyped(payload, fileKey, t)
}

// ChunkTyped runs one chunking invocation for an explicitly typed payload.
func (c *Chunker) ChunkTyped(data any, fileKey string, t chunk.Type) (*chunk.Result, error) {
	strat, ok := c.strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", chunk.ErrNoStrategy, t)
	}
	if c.opts.Debug {
		c.log.Debug("chunking", zap.String("file_key", fileKey), zap.String("type", string(t)))
	}

	start := time.Now()
	result, err := strat.Chunk(data, strategy.NewContext(fileKey, c.opts.MaxChunkSize))
	if err != nil {
		return nil, err
	}

	for _, ch := range result.Chunks {
		c.graph.AddNode(ch.ID, nil)
		for _, link := range ch.Links {
			c.graph.AddReference(ch.ID, link)
		}
	}

	if c.opts.OptimizationLevel != optimizer.LevelNone {
		optimized := make([]*chunk.Chunk, 0, len(result.Chunks))
		for _, ch := range result.Chunks {
			out, err := c.optimizer.Optimize(ch, c.opts.OptimizationLevel)
			if err != nil {
				return nil, err
			}
			if chunk.Over(out.Data, c.opts.MaxChunkSize) {
				c.log.Warn("chunk exceeds size budget after optimization",
					zap.String("chunk_id", out.ID),
					zap.Int("size", chunk.Estimate(out.Data)),
					zap.Int("max", c.opts.MaxChunkSize))
			}
			optimized = append(optimized, out)
		}
		result.Chunks = optimized
	}

	if c.opts.DetectCircularReferences {
		if cycles := c.graph.DetectCycles(); len(cycles) > 0 {
			obs.CyclesDetected.Add(float64(len(cycles)))
			c.log.Warn("circular chunk references detected",
				zap.String("file_key", fileKey),
				zap.Int("cycles", len(cycles)),
				zap.Strings("first_cycle", cycles[0]))
		}
	}

	elapsed := time.Since(start)
	if c.opts.CollectMetrics {
		c.collector.RecordProcessingTime(t, float64(elapsed.Microseconds())/1000.0)
		c.collector.RecordChunkCount(t, len(result.Chunks))
		for _, ch := range result.Chunks {
			c.collector.RecordChunkSize(t, chunk.Estimate(ch.Data))
		}
	}
	obs.ChunksProduced.WithLabelValues(string(t)).Add(float64(len(result.Chunks)))
	obs.ChunkingDuration.WithLabelValues(string(t)).Observe(elapsed.Seconds())
	for _, ch := range result.Chunks {
		obs.ChunkBytes.WithLabelValues(string(t)).Observe(float64(chunk.Estimate(ch.Data)))
	}

	return result, nil
}

// DetectType applies the structural heuristics for untyped payloads and
// returns the detected type plus the payload the strategy should receive
// (variable dictionaries arrive wrapped in a variables/localVariables
// envelope and are unwrapped here).
func DetectType(data any) (chunk.Type, any) {
	switch val := data.(type) {
	case []any:
		return chunk.TypeGlobalVars, data
	case map[string]any:
		if vars, ok := val["variables"]; ok && isVariableContainer(vars) {
			return chunk.TypeGlobalVars, vars
		}
		if vars, ok := val["localVariables"]; ok && isVariableContainer(vars) {
			return chunk.TypeGlobalVars, vars
		}
		if chunk.StringField(val, "id") != "" && chunk.StringField(val, "type") != "" {
			return chunk.TypeNode, data
		}
		if doc, ok := val["document"].(map[string]any); ok {
			if chunk.StringField(doc, "id") != "" {
				if _, ok := doc["children"]; ok {
					return chunk.TypeNode, doc
				}
			}
		}
		return chunk.TypeMetadata, data
	default:
		return chunk.TypeMetadata, data
	}
}

func isVariableContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
