// Copyright 2025 James Ross
package strategy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

// VariableTag classifies a global design variable for partitioning.
type VariableTag string

const (
	TagColor       VariableTag = "COLOR"
	TagFloat       VariableTag = "FLOAT"
	TagString      VariableTag = "STRING"
	TagBoolean     VariableTag = "BOOLEAN"
	TagTextStyle   VariableTag = "TEXT_STYLE"
	TagEffectStyle VariableTag = "EFFECT_STYLE"
	TagOther       VariableTag = "OTHER"
)

// tagOrder fixes group emission order so a given input always produces the
// same chunk sequence.
var tagOrder = []VariableTag{TagColor, TagFloat, TagString, TagBoolean, TagTextStyle, TagEffectStyle, TagOther}

const (
	globalVarsAllIdentifier   = "all"
	globalVarsIndexIdentifier = "index"
)

// GlobalVarsStrategy partitions a dictionary of global design variables by
// variable type, greedily splitting oversized groups, and emits an index
// chunk mapping each tag to its first chunk.
type GlobalVarsStrategy struct{}

func (GlobalVarsStrategy) Type() chunk.Type { return chunk.TypeGlobalVars }

func (GlobalVarsStrategy) ShouldChunk(data any, ctx *Context) bool {
	return chunk.Over(data, ctx.MaxSize)
}

func (s GlobalVarsStrategy) Chunk(data any, ctx *Context) (*chunk.Result, error) {
	if ctx.Depth > MaxDepth {
		return nil, fmt.Errorf("%w: globalVars recursion at depth %d", chunk.ErrDepthExceeded, ctx.Depth)
	}
	entries, err := variableEntries(data)
	if err != nil {
		return nil, err
	}

	if !s.ShouldChunk(data, ctx) {
		id := chunk.GenerateID(ctx.FileKey, chunk.TypeGlobalVars, globalVarsAllIdentifier)
		for _, e := range entries {
			ctx.IDMap[e.id] = id
		}
		c := chunk.New(id, ctx.FileKey, chunk.TypeGlobalVars, entriesToMap(entries))
		return &chunk.Result{Chunks: []*chunk.Chunk{c}, PrimaryChunkID: id, References: []string{}}, nil
	}

	groups := make(map[VariableTag][]varEntry)
	for _, e := range entries {
		tag := classifyVariable(e.value)
		groups[tag] = append(groups[tag], e)
	}

	index := make(map[string]any)
	var produced []*chunk.Chunk
	var links []string

	for _, tag := range tagOrder {
		group := groups[tag]
		if len(group) == 0 {
			continue
		}
		first := ""
		for _, part := range partitionGroup(group, ctx.MaxSize) {
			identifier := string(tag)
			if part.indexed {
				identifier = string(tag) + "-" + strconv.Itoa(part.index)
			}
			id := chunk.GenerateID(ctx.FileKey, chunk.TypeGlobalVars, identifier)
			if first == "" {
				first = id
			}
			for _, e := range part.entries {
				ctx.IDMap[e.id] = id
			}
			produced = append(produced, chunk.New(id, ctx.FileKey, chunk.TypeGlobalVars, entriesToMap(part.entries)))
			links = append(links, id)
		}
		index[string(tag)] = first
	}

	primaryID := chunk.GenerateID(ctx.FileKey, chunk.TypeGlobalVars, globalVarsIndexIdentifier)
	primary := chunk.New(primaryID, ctx.FileKey, chunk.TypeGlobalVars, index)
	primary.Links = append(primary.Links, links...)

	result := &chunk.Result{
		Chunks:         append([]*chunk.Chunk{primary}, produced...),
		PrimaryChunkID: primaryID,
		References:     append([]string(nil), links...),
	}
	return result, nil
}

type varEntry struct {
	id    string
	value any
}

// variableEntries normalizes the input into a deterministically ordered
// entry list. Mappings iterate in sorted key order; arrays keep their order,
// keyed by each entry's id field or its position.
func variableEntries(data any) ([]varEntry, error) {
	switch vars := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]varEntry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, varEntry{id: k, value: vars[k]})
		}
		return entries, nil
	case []any:
		entries := make([]varEntry, 0, len(vars))
		for i, v := range vars {
			id := ""
			if m, ok := v.(map[string]any); ok {
				id = chunk.StringField(m, "id")
			}
			if id == "" {
				id = "var-" + strconv.Itoa(i)
			}
			entries = append(entries, varEntry{id: id, value: v})
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("%w: global variables must be an object or array, got %T", chunk.ErrInvalidInput, data)
	}
}

func entriesToMap(entries []varEntry) map[string]any {
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		out[e.id] = e.value
	}
	return out
}

// classifyVariable derives the partition tag. An explicit value.type wins
// when it names a known tag; otherwise the shape is inspected in order
// COLOR, TEXT_STYLE, EFFECT_STYLE before falling back to OTHER.
func classifyVariable(value any) VariableTag {
	m, ok := value.(map[string]any)
	if !ok {
		return TagOther
	}
	if t := strings.ToUpper(chunk.StringField(m, "type")); t != "" {
		for _, tag := range tagOrder {
			if t == string(tag) {
				return tag
			}
		}
	}
	if hasKeys(m, "r") && hasKeys(m, "g") && hasKeys(m, "b") {
		return TagColor
	}
	if hasKeys(m, "fontFamily") || hasKeys(m, "fontSize") {
		return TagTextStyle
	}
	if effects, ok := m["effects"].([]any); ok && effects != nil {
		return TagEffectStyle
	}
	return TagOther
}

func hasKeys(m map[string]any, key string) bool {
	_, present := m[key]
	return present
}

type groupPart struct {
	entries []varEntry
	index   int
	indexed bool
}

// partitionGroup keeps a whole group together when it fits the budget, and
// otherwise accumulates entries greedily until the next one would overflow.
// A singleton that still exceeds the budget is emitted alone.
func partitionGroup(group []varEntry, max int) []groupPart {
	if !chunk.Over(entriesToMap(group), max) {
		return []groupPart{{entries: group}}
	}

	var parts []groupPart
	var current []varEntry
	size := 2
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, groupPart{entries: current, index: len(parts), indexed: true})
			current = nil
			size = 2
		}
	}
	for _, e := range group {
		cost := len(e.id) + 3 + chunk.Estimate(e.value) + 1
		if len(current) > 0 && size+cost > max {
			flush()
		}
		current = append(current, e)
		size += cost
	}
	flush()
	return parts
}
