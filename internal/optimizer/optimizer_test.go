// Copyright 2025 James Ross
package optimizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeChunk() *chunk.Chunk {
	return chunk.New("fk:node:n1", "fk", chunk.TypeNode, map[string]any{
		"id":       "n1",
		"type":     "RECTANGLE",
		"name":     "rect",
		"x":        1.0,
		"y":        2.0,
		"width":    100.0,
		"height":   50.0,
		"fills":    []any{map[string]any{"type": "SOLID"}},
		"_private": "internal",
		"exported": nil,
		"children": []any{map[string]any{"id": "c1"}},
		"extra":    "dropped by compress",
	})
}

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]Level{
		"none": LevelNone, "LOW": LevelLow, "Medium": LevelMedium, "high": LevelHigh, "": LevelMedium,
	} {
		got, err := ParseLevel(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("extreme")
	assert.ErrorIs(t, err, chunk.ErrInvalidInput)
}

func TestOptimizeNoneIsDeepCopy(t *testing.T) {
	o := New(30720)
	in := nodeChunk()
	out, err := o.Optimize(in, LevelNone)
	require.NoError(t, err)

	assert.Equal(t, in.Data, out.Data)
	out.Data.(map[string]any)["name"] = "mutated"
	assert.Equal(t, "rect", in.Data.(map[string]any)["name"], "input must not be mutated")
}

func TestOptimizeLowDropsDenyList(t *testing.T) {
	o := New(30720)
	in := chunk.New("fk:metadata:core", "fk", chunk.TypeMetadata, map[string]any{
		"name":               "f",
		"thumbnailUrl":       "https://example.test/t.png",
		"documentationLinks": []any{},
		"editorType":         "figma",
		"_internal":          "x",
		"empty":              nil,
		"nested":             map[string]any{"thumbnailUrl": "inner", "keep": "y"},
	})
	out, err := o.Optimize(in, LevelLow)
	require.NoError(t, err)

	data := out.Data.(map[string]any)
	assert.Equal(t, "f", data["name"])
	assert.NotContains(t, data, "thumbnailUrl")
	assert.NotContains(t, data, "documentationLinks")
	assert.NotContains(t, data, "editorType")
	assert.NotContains(t, data, "_internal")
	assert.NotContains(t, data, "empty")

	nested := data["nested"].(map[string]any)
	assert.NotContains(t, nested, "thumbnailUrl")
	assert.Equal(t, "y", nested["keep"])
}

func TestCompressNode(t *testing.T) {
	o := New(30720)
	out := o.Compress(nodeChunk())

	data := out.Data.(map[string]any)
	assert.Equal(t, "n1", data["id"])
	assert.Equal(t, 100.0, data["width"])
	assert.NotContains(t, data, "extra")
	assert.NotContains(t, data, "_private")
	assert.Equal(t, []any{}, data["children"], "children emptied, links preserved on the chunk")
}

func TestCompressMetadata(t *testing.T) {
	o := New(30720)
	in := chunk.New("fk:metadata:core", "fk", chunk.TypeMetadata, map[string]any{
		"name":          "f",
		"version":       "9",
		"schemaVersion": 14.0,
		"lastModified":  "t",
		"thumbnailUrl":  "dropped",
		"components": map[string]any{
			"c1": map[string]any{"name": "button", "description": "dropped"},
		},
		"styles": []any{map[string]any{"name": "text", "remote": true}},
	})
	out := o.Compress(in)

	data := out.Data.(map[string]any)
	assert.NotContains(t, data, "thumbnailUrl")
	comp := data["components"].(map[string]any)["c1"].(map[string]any)
	assert.Equal(t, map[string]any{"name": "button"}, comp)
	style := data["styles"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"name": "text"}, style)
}

func TestCompressGlobalVars(t *testing.T) {
	o := New(30720)
	in := chunk.New("fk:globalVars:COLOR", "fk", chunk.TypeGlobalVars, map[string]any{
		"v1": map[string]any{"name": "red", "type": "COLOR", "valuesByMode": map[string]any{"m": "x"}, "junk": 1.0},
		"v2": map[string]any{"name": "blue", "type": "COLOR"},
	})
	out := o.Compress(in)

	data := out.Data.(map[string]any)
	v1 := data["v1"].(map[string]any)
	assert.Equal(t, "red", v1["name"])
	assert.Contains(t, v1, "valuesByMode")
	assert.NotContains(t, v1, "junk")
	assert.NotContains(t, data["v2"], "valuesByMode")
}

func TestOptimizeHighStripsUnderscores(t *testing.T) {
	o := New(30720)
	in := chunk.New("fk:node:n1", "fk", chunk.TypeNode, map[string]any{
		"id":    "n1",
		"fills": []any{map[string]any{"type": "SOLID", "_meta": "x"}},
	})
	out, err := o.Optimize(in, LevelHigh)
	require.NoError(t, err)

	fills := out.Data.(map[string]any)["fills"].([]any)
	assert.NotContains(t, fills[0].(map[string]any), "_meta")
}

func TestSplitUnknownTypePassthrough(t *testing.T) {
	o := New(30720)
	in := chunk.New("fk:node:n1", "fk", chunk.TypeNode, map[string]any{"id": "n1", "type": "RECTANGLE"})
	in.Type = "mystery"
	out, err := o.Split(in, 1024)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in.Data, out[0].Data)
}

func TestMergeEmptyIsError(t *testing.T) {
	o := New(30720)
	_, err := o.Merge(nil)
	assert.ErrorIs(t, err, chunk.ErrInvalidInput)
}

func TestSplitMergeNodeRoundTrip(t *testing.T) {
	o := New(30720)
	children := make([]any, 4)
	for i := range children {
		children[i] = map[string]any{
			"id":   fmt.Sprintf("c%d", i),
			"type": "RECTANGLE",
			"name": fmt.Sprintf("rect-%d", i),
			"blob": strings.Repeat("x", 900),
		}
	}
	in := chunk.New("fk:node:root", "fk", chunk.TypeNode, map[string]any{
		"id":       "root",
		"type":     "FRAME",
		"name":     "frame",
		"children": children,
	})

	parts, err := o.Split(in, 1024)
	require.NoError(t, err)
	require.Greater(t, len(parts), 1)

	merged, err := o.Merge(parts)
	require.NoError(t, err)
	assert.Equal(t, in.ID, merged.ID)
	assert.Equal(t, in.FileKey, merged.FileKey)
	assert.Equal(t, in.Type, merged.Type)

	mergedChildren := merged.Data.(map[string]any)["children"].([]any)
	require.Len(t, mergedChildren, 4)
	for i, raw := range mergedChildren {
		child := raw.(map[string]any)
		assert.Equal(t, fmt.Sprintf("c%d", i), child["id"])
		assert.Contains(t, child, "blob", "re-attached children carry their full payload")
	}
}

func TestSplitMergeGlobalVarsRoundTrip(t *testing.T) {
	o := New(30720)
	vars := make(map[string]any, 30)
	for i := 0; i < 30; i++ {
		vars[fmt.Sprintf("v%02d", i)] = map[string]any{
			"type": "COLOR",
			"name": fmt.Sprintf("color-%d", i),
			"pad":  strings.Repeat("p", 100),
		}
	}
	in := chunk.New("fk:globalVars:index", "fk", chunk.TypeGlobalVars, vars)

	parts, err := o.Split(in, 1024)
	require.NoError(t, err)
	require.Greater(t, len(parts), 2)

	merged, err := o.Merge(parts)
	require.NoError(t, err)
	data := merged.Data.(map[string]any)
	assert.Len(t, data, 30, "every variable survives the round trip")
}
