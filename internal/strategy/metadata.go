// Copyright 2025 James Ross
package strategy

import (
	"fmt"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

// Deterministic identifiers for the metadata split. The core identifier is
// used for the single-chunk case too, so the primary id of a file's metadata
// is stable whether or not the envelope was split.
const (
	metadataCoreIdentifier      = "core"
	metadataDetailsIdentifier   = "details"
	metadataStructureIdentifier = "structure"
)

// Abbreviated structure trees keep at most this many children per node.
const structureChildLimit = 10

// MetadataStrategy splits a document envelope into a core summary chunk, a
// details chunk and an abbreviated structure chunk when the envelope exceeds
// the byte budget.
type MetadataStrategy struct{}

func (MetadataStrategy) Type() chunk.Type { return chunk.TypeMetadata }

func (MetadataStrategy) ShouldChunk(data any, ctx *Context) bool {
	return chunk.Over(data, ctx.MaxSize)
}

func (s MetadataStrategy) Chunk(data any, ctx *Context) (*chunk.Result, error) {
	if ctx.Depth > MaxDepth {
		return nil, fmt.Errorf("%w: metadata recursion at depth %d", chunk.ErrDepthExceeded, ctx.Depth)
	}
	env, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: metadata envelope must be an object, got %T", chunk.ErrInvalidInput, data)
	}

	coreID := chunk.GenerateID(ctx.FileKey, chunk.TypeMetadata, metadataCoreIdentifier)
	if name := chunk.StringField(env, "name"); name != "" {
		ctx.IDMap[name] = coreID
	}

	if !s.ShouldChunk(data, ctx) {
		c := chunk.New(coreID, ctx.FileKey, chunk.TypeMetadata, copyNode(env))
		return &chunk.Result{Chunks: []*chunk.Chunk{c}, PrimaryChunkID: coreID, References: []string{}}, nil
	}

	core := pickFields(env, "name", "lastModified", "version", "thumbnailUrl", "schemaVersion", "documentationLinks")
	document, _ := env["document"].(map[string]any)
	if document != nil {
		if children, ok := document["children"].([]any); ok {
			pages := make([]any, 0, len(children))
			for _, raw := range children {
				if page, ok := raw.(map[string]any); ok {
					pages = append(pages, pickFields(page, "id", "name", "type"))
				}
			}
			core["pages"] = pages
		}
	}
	if components, present := env["components"]; present {
		core["componentCount"] = entryCount(components)
	}
	if styles, present := env["styles"]; present {
		core["styleCount"] = entryCount(styles)
	}

	details := pickFields(env, "editorType", "linkAccess", "createdAt", "branches", "components", "styles", "users", "lastUser")

	coreChunk := chunk.New(coreID, ctx.FileKey, chunk.TypeMetadata, core)
	detailsID := chunk.GenerateID(ctx.FileKey, chunk.TypeMetadata, metadataDetailsIdentifier)
	detailsChunk := chunk.New(detailsID, ctx.FileKey, chunk.TypeMetadata, details)

	result := &chunk.Result{
		Chunks:         []*chunk.Chunk{coreChunk, detailsChunk},
		PrimaryChunkID: coreID,
	}
	coreChunk.AddLink(detailsID)

	if document != nil {
		structureID := chunk.GenerateID(ctx.FileKey, chunk.TypeMetadata, metadataStructureIdentifier)
		structureChunk := chunk.New(structureID, ctx.FileKey, chunk.TypeMetadata, abbreviateNode(document))
		result.Chunks = append(result.Chunks, structureChunk)
		coreChunk.AddLink(structureID)
		if docID := chunk.StringField(document, "id"); docID != "" {
			ctx.IDMap[docID] = structureID
		}
	}

	result.References = append([]string(nil), coreChunk.Links...)
	return result, nil
}

// abbreviateNode reduces a node to {id, name, type} and at most the first
// structureChildLimit children, recursively. Truncation records the original
// childrenCount.
func abbreviateNode(node map[string]any) map[string]any {
	abbrev := pickFields(node, "id", "name", "type")
	children, ok := node["children"].([]any)
	if !ok || len(children) == 0 {
		return abbrev
	}
	kept := children
	if len(children) > structureChildLimit {
		kept = children[:structureChildLimit]
		abbrev["childrenCount"] = len(children)
	}
	out := make([]any, 0, len(kept))
	for _, raw := range kept {
		if child, ok := raw.(map[string]any); ok {
			out = append(out, abbreviateNode(child))
		}
	}
	abbrev["children"] = out
	return abbrev
}

// pickFields copies the named fields that are present in src.
func pickFields(src map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, present := src[k]; present {
			out[k] = v
		}
	}
	return out
}

func entryCount(v any) int {
	switch val := v.(type) {
	case map[string]any:
		return len(val)
	case []any:
		return len(val)
	default:
		return 0
	}
}
