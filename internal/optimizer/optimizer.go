// Copyright 2025 James Ross
package optimizer

import (
	"fmt"
	"strings"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/flyingrobots/go-design-chunk-cache/internal/strategy"
)

// Level controls how aggressively the optimizer discards non-essential
// fields. Levels are monotone: HIGH implies everything MEDIUM does.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ParseLevel matches a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "none":
		return LevelNone, nil
	case "low":
		return LevelLow, nil
	case "medium", "":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	}
	return "", fmt.Errorf("%w: unknown optimization level %q", chunk.ErrInvalidInput, s)
}

// Fields dropped at LevelLow in addition to underscore-prefixed keys and
// null values.
var lowDenyList = map[string]bool{
	"thumbnailUrl":       true,
	"documentationLinks": true,
	"editorType":         true,
}

// Optimizer rewrites chunks to fit under a byte budget. Every operation
// returns a new value; inputs are never mutated.
type Optimizer struct {
	maxSize int
}

// New returns an optimizer for the given maximum chunk size.
func New(maxSize int) *Optimizer {
	return &Optimizer{maxSize: maxSize}
}

// Optimize returns a rewritten copy of c at the given level.
func (o *Optimizer) Optimize(c *chunk.Chunk, level Level) (*chunk.Chunk, error) {
	switch level {
	case LevelNone, "":
		return cloneChunk(c), nil
	case LevelLow:
		out := cloneChunk(c)
		out.Data = pruneLow(out.Data)
		return out, nil
	case LevelMedium:
		return o.Compress(c), nil
	case LevelHigh:
		out := o.Compress(c)
		out.Data = stripUnderscoreKeys(out.Data)
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown optimization level %q", chunk.ErrInvalidInput, level)
}

// Compress applies type-specific lossy compression and returns a new chunk.
func (o *Optimizer) Compress(c *chunk.Chunk) *chunk.Chunk {
	out := cloneChunk(c)
	switch c.Type {
	case chunk.TypeNode:
		out.Data = compressNode(out.Data)
	case chunk.TypeMetadata:
		out.Data = compressMetadata(out.Data)
	case chunk.TypeGlobalVars:
		out.Data = compressGlobalVars(out.Data)
	}
	return out
}

// Split re-runs the type-specific splitting rules on the chunk's payload
// under the given budget. When no type-aware rule applies the chunk is
// returned unchanged as a singleton.
func (o *Optimizer) Split(c *chunk.Chunk, max int) ([]*chunk.Chunk, error) {
	var strat strategy.Strategy
	switch c.Type {
	case chunk.TypeNode:
		strat = strategy.NodeStrategy{}
	case chunk.TypeMetadata:
		strat = strategy.MetadataStrategy{}
	case chunk.TypeGlobalVars:
		strat = strategy.GlobalVarsStrategy{}
	default:
		return []*chunk.Chunk{cloneChunk(c)}, nil
	}
	result, err := strat.Chunk(deepCopyValue(c.Data), strategy.NewContext(c.FileKey, max))
	if err != nil {
		return nil, err
	}
	return result.Chunks, nil
}

// Merge reverses a split. Node children are re-attached from linked chunks,
// metadata core and detail objects are shallow-merged with the core winning
// on collision, and global-vars variables are merged by id. Empty input is
// an error.
func (o *Optimizer) Merge(chunks []*chunk.Chunk) (*chunk.Chunk, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: merge requires at least one chunk", chunk.ErrInvalidInput)
	}
	primary := cloneChunk(chunks[0])
	if len(chunks) == 1 {
		return primary, nil
	}

	switch primary.Type {
	case chunk.TypeNode:
		index := make(map[string]*chunk.Chunk, len(chunks)-1)
		for _, c := range chunks[1:] {
			index[c.ID] = c
		}
		primary.Data = reattachNodes(primary.Data, index)
	case chunk.TypeMetadata:
		primary.Data = mergeMetadata(primary, chunks[1:])
	case chunk.TypeGlobalVars:
		primary.Data = mergeGlobalVars(chunks)
	default:
		return nil, fmt.Errorf("%w: cannot merge chunks of type %q", chunk.ErrInvalidInput, primary.Type)
	}
	primary.Links = []string{}
	return primary, nil
}

// MaxSize returns the configured byte budget.
func (o *Optimizer) MaxSize() int {
	return o.maxSize
}

func compressNode(data any) any {
	node, ok := data.(map[string]any)
	if !ok {
		return data
	}
	kept := pickPresent(node, "id", "type", "name", "x", "y", "width", "height", "fills", "strokes", "cornerRadius", "blendMode")
	if _, had := node["children"]; had {
		kept["children"] = []any{}
	}
	return kept
}

func compressMetadata(data any) any {
	env, ok := data.(map[string]any)
	if !ok {
		return data
	}
	kept := pickPresent(env, "name", "version", "schemaVersion", "lastModified")
	if components, present := env["components"]; present {
		kept["components"] = reduceEntriesToName(components)
	}
	if styles, present := env["styles"]; present {
		kept["styles"] = reduceEntriesToName(styles)
	}
	return kept
}

func compressGlobalVars(data any) any {
	vars, ok := data.(map[string]any)
	if !ok {
		return data
	}
	out := make(map[string]any, len(vars))
	for id, raw := range vars {
		v, ok := raw.(map[string]any)
		if !ok {
			// Index chunks map tags to chunk id strings; leave those alone.
			out[id] = raw
			continue
		}
		kept := pickPresent(v, "name", "type")
		if modes, present := v["valuesByMode"]; present {
			kept["valuesByMode"] = modes
		}
		out[id] = kept
	}
	return out
}

// reduceEntriesToName keeps only the name field of each component or style
// entry, preserving the container shape.
func reduceEntriesToName(v any) any {
	switch entries := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(entries))
		for k, raw := range entries {
			out[k] = nameOnly(raw)
		}
		return out
	case []any:
		out := make([]any, 0, len(entries))
		for _, raw := range entries {
			out = append(out, nameOnly(raw))
		}
		return out
	default:
		return v
	}
}

func nameOnly(v any) any {
	if m, ok := v.(map[string]any); ok {
		return pickPresent(m, "name")
	}
	return v
}

// pruneLow drops underscore-prefixed keys, the LOW deny-list and null
// values, recursing into sub-containers.
func pruneLow(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			if el == nil || strings.HasPrefix(k, "_") || lowDenyList[k] {
				continue
			}
			out[k] = pruneLow(el)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, el := range val {
			out = append(out, pruneLow(el))
		}
		return out
	default:
		return v
	}
}

// stripUnderscoreKeys removes every key starting with "_" at any depth.
func stripUnderscoreKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			if strings.HasPrefix(k, "_") {
				continue
			}
			out[k] = stripUnderscoreKeys(el)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, el := range val {
			out = append(out, stripUnderscoreKeys(el))
		}
		return out
	default:
		return v
	}
}

// reattachNodes replaces reference objects with the payload of the chunk
// they point to, recursively, so nested splits collapse back into one tree.
func reattachNodes(v any, index map[string]*chunk.Chunk) any {
	switch val := v.(type) {
	case map[string]any:
		if chunkID := chunk.StringField(val, "chunkId"); chunkID != "" && isReferenceObject(val) {
			if linked, ok := index[chunkID]; ok {
				return reattachNodes(deepCopyValue(linked.Data), index)
			}
		}
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = reattachNodes(el, index)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, el := range val {
			out = append(out, reattachNodes(el, index))
		}
		return out
	default:
		return v
	}
}

// isReferenceObject matches the inline placeholder shape
// {id, name, type, chunkId} left behind by the node strategy.
func isReferenceObject(m map[string]any) bool {
	if len(m) > 4 {
		return false
	}
	for k := range m {
		switch k {
		case "id", "name", "type", "chunkId":
		default:
			return false
		}
	}
	_, hasChunkID := m["chunkId"]
	return hasChunkID
}

func mergeMetadata(primary *chunk.Chunk, rest []*chunk.Chunk) any {
	core, ok := primary.Data.(map[string]any)
	if !ok {
		return primary.Data
	}
	merged := make(map[string]any, len(core))
	for k, v := range core {
		merged[k] = v
	}
	for _, c := range rest {
		if parsed, err := chunk.ParseID(c.ID); err == nil && parsed.Identifier == "structure" {
			continue
		}
		details, ok := c.Data.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range details {
			if _, taken := merged[k]; !taken {
				merged[k] = deepCopyValue(v)
			}
		}
	}
	return merged
}

func mergeGlobalVars(chunks []*chunk.Chunk) any {
	merged := make(map[string]any)
	for _, c := range chunks {
		if parsed, err := chunk.ParseID(c.ID); err == nil && parsed.Identifier == "index" {
			continue
		}
		vars, ok := c.Data.(map[string]any)
		if !ok {
			continue
		}
		for id, v := range vars {
			if _, taken := merged[id]; !taken {
				merged[id] = deepCopyValue(v)
			}
		}
	}
	return merged
}

func pickPresent(src map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, present := src[k]; present {
			out[k] = v
		}
	}
	return out
}

func cloneChunk(c *chunk.Chunk) *chunk.Chunk {
	out := *c
	out.Links = append([]string(nil), c.Links...)
	out.Data = deepCopyValue(c.Data)
	if c.Expires != nil {
		expires := *c.Expires
		out.Expires = &expires
	}
	return &out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = deepCopyValue(el)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, el := range val {
			out = append(out, deepCopyValue(el))
		}
		return out
	default:
		return v
	}
}
