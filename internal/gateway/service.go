// Copyright 2025 James Ross
package gateway

import (
	"context"
	"fmt"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/flyingrobots/go-design-chunk-cache/internal/chunker"
	"github.com/flyingrobots/go-design-chunk-cache/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service implements the two logical operations the tool-call gateway
// consumes: document ingestion and chunk fetch. Transport framing is the
// gateway's concern; this layer is pure chunking plus persistence.
type Service struct {
	chunker *chunker.Chunker
	store   *storage.Manager
	log     *zap.Logger
}

// NewService wires a chunker to a storage manager.
func NewService(c *chunker.Chunker, store *storage.Manager, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{chunker: c, store: store, log: log}
}

// IngestResult is the ingest response shape.
type IngestResult struct {
	FileKey          string `json:"fileKey"`
	FirstChunkID     string `json:"firstChunkId"`
	TotalChunks      int    `json:"totalChunks"`
	Metadata         any    `json:"metadata,omitempty"`
	StructureSummary any    `json:"structureSummary,omitempty"`
}

// IngestDocument chunks the document and persists every produced chunk via
// the configured adapter. A failed chunking call leaves no partial state;
// a failed save mid-batch may leave earlier chunks persisted, and a retry
// with the same ids upserts.
func (s *Service) IngestDocument(ctx context.Context, data any, fileKey string) (*IngestResult, error) {
	requestID := uuid.NewString()
	log := s.log.With(zap.String("request_id", requestID), zap.String("file_key", fileKey))

	result, err := s.chunker.Chunk(data, fileKey)
	if err != nil {
		log.Error("chunking failed", zap.Error(err))
		return nil, err
	}
	if err := s.store.SaveAll(ctx, result.Chunks); err != nil {
		log.Error("persist failed", zap.Error(err))
		return nil, err
	}
	log.Info("document ingested", zap.Int("chunks", len(result.Chunks)))

	out := &IngestResult{
		FileKey:      fileKey,
		FirstChunkID: result.PrimaryChunkID,
		TotalChunks:  len(result.Chunks),
	}
	if primary := result.Primary(); primary != nil && primary.Type == chunk.TypeMetadata {
		out.Metadata = primary.Data
		if env, ok := primary.Data.(map[string]any); ok {
			if pages, ok := env["pages"]; ok {
				out.StructureSummary = pages
			}
		}
	}
	return out, nil
}

// FetchResult is the fetch response shape. Exactly one of Metadata,
// GlobalVars or Nodes is populated, per the chunk's type.
type FetchResult struct {
	FileKey     string   `json:"fileKey"`
	ChunkID     string   `json:"chunkId"`
	NextChunkID string   `json:"nextChunkId,omitempty"`
	TotalChunks int      `json:"totalChunks"`
	Metadata    any      `json:"metadata,omitempty"`
	GlobalVars  any      `json:"globalVars,omitempty"`
	Nodes       []any    `json:"nodes"`
	Links       []string `json:"links,omitempty"`
}

// FetchChunk resolves one chunk by id. NextChunkID is the first link, which
// in a fresh ingest is the first dependent in traversal order.
func (s *Service) FetchChunk(ctx context.Context, fileKey, chunkID string) (*FetchResult, error) {
	if !chunk.ValidateID(chunkID) {
		return nil, fmt.Errorf("%w: chunk id %q", chunk.ErrInvalidInput, chunkID)
	}
	c, err := s.store.Get(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: chunk %q not found", chunk.ErrInvalidInput, chunkID)
	}

	total := 0
	summaries, err := s.store.List(ctx, chunk.Filter{FileKey: fileKey, Limit: chunk.DefaultLimit * 100})
	if err != nil {
		s.log.Warn("failed to count chunks for file", zap.String("file_key", fileKey), zap.Error(err))
	} else {
		total = len(summaries)
	}

	out := &FetchResult{
		FileKey:     fileKey,
		ChunkID:     chunkID,
		TotalChunks: total,
		Nodes:       []any{},
		Links:       c.Links,
	}
	if len(c.Links) > 0 {
		out.NextChunkID = c.Links[0]
	}
	switch c.Type {
	case chunk.TypeMetadata:
		out.Metadata = c.Data
	case chunk.TypeGlobalVars:
		out.GlobalVars = c.Data
	case chunk.TypeNode:
		out.Nodes = []any{c.Data}
	}
	return out, nil
}
