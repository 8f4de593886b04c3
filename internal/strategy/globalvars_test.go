// Copyright 2025 James Ross
package strategy

import (
	"fmt"
	"strings"
	"testing"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colorVariable(pad int) map[string]any {
	return map[string]any{
		"type":  "COLOR",
		"name":  "color",
		"value": strings.Repeat("c", pad),
	}
}

func TestGlobalVarsSingleChunkUnderBudget(t *testing.T) {
	s := GlobalVarsStrategy{}
	vars := map[string]any{
		"v1": map[string]any{"type": "COLOR", "name": "red"},
		"v2": map[string]any{"type": "FLOAT", "name": "radius"},
	}
	ctx := NewContext("fk", 1<<20)
	result, err := s.Chunk(vars, ctx)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "fk:globalVars:all", result.PrimaryChunkID)
	assert.Equal(t, "fk:globalVars:all", ctx.IDMap["v1"])
}

func TestGlobalVarsPartitioning(t *testing.T) {
	s := GlobalVarsStrategy{}
	vars := make(map[string]any, 110)
	for i := 0; i < 100; i++ {
		vars[fmt.Sprintf("color-%03d", i)] = colorVariable(160)
	}
	for i := 0; i < 10; i++ {
		vars[fmt.Sprintf("float-%02d", i)] = map[string]any{"type": "FLOAT", "name": "f", "value": 1.5}
	}

	result, err := s.Chunk(vars, NewContext("fk", 2048))
	require.NoError(t, err)

	primary := result.Chunks[0]
	assert.Equal(t, "fk:globalVars:index", result.PrimaryChunkID)

	index := primary.Data.(map[string]any)
	assert.Equal(t, "fk:globalVars:COLOR-0", index["COLOR"], "oversized group points at its first sub-chunk")
	assert.Equal(t, "fk:globalVars:FLOAT", index["FLOAT"], "small group keeps its bare tag identifier")

	var colorChunks, floatChunks int
	for _, c := range result.Chunks[1:] {
		parsed, err := chunk.ParseID(c.ID)
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(parsed.Identifier, "COLOR"):
			colorChunks++
			assert.LessOrEqual(t, chunk.Estimate(c.Data), 2048)
		case parsed.Identifier == "FLOAT":
			floatChunks++
			vars := c.Data.(map[string]any)
			assert.Len(t, vars, 10, "all floats fit in one chunk")
		}
	}
	assert.Greater(t, colorChunks, 1, "colors split into multiple sub-chunks")
	assert.Equal(t, 1, floatChunks)

	assert.Equal(t, primary.Links, result.References)
	assert.Len(t, primary.Links, len(result.Chunks)-1)
}

func TestGlobalVarsArrayInput(t *testing.T) {
	s := GlobalVarsStrategy{}
	vars := []any{
		map[string]any{"id": "a", "type": "STRING", "name": "title"},
		map[string]any{"type": "BOOLEAN", "name": "visible"},
	}
	result, err := s.Chunk(vars, NewContext("fk", 1<<20))
	require.NoError(t, err)
	data := result.Chunks[0].Data.(map[string]any)
	assert.Contains(t, data, "a")
	assert.Contains(t, data, "var-1", "id-less array entries are keyed by position")
}

func TestGlobalVarsRejectsScalar(t *testing.T) {
	s := GlobalVarsStrategy{}
	_, err := s.Chunk("nope", NewContext("fk", 1024))
	assert.ErrorIs(t, err, chunk.ErrInvalidInput)
}

func TestClassifyVariable(t *testing.T) {
	tests := []struct {
		value any
		want  VariableTag
	}{
		{map[string]any{"type": "COLOR"}, TagColor},
		{map[string]any{"type": "color"}, TagColor},
		{map[string]any{"type": "FLOAT"}, TagFloat},
		{map[string]any{"r": 1.0, "g": 0.5, "b": 0.0}, TagColor},
		{map[string]any{"fontFamily": "Inter"}, TagTextStyle},
		{map[string]any{"fontSize": 12.0}, TagTextStyle},
		{map[string]any{"effects": []any{}}, TagEffectStyle},
		{map[string]any{"whatever": true}, TagOther},
		{"scalar", TagOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyVariable(tt.value), "value %v", tt.value)
	}
}

func TestGlobalVarsOversizedSingleton(t *testing.T) {
	s := GlobalVarsStrategy{}
	vars := map[string]any{
		"huge":  colorVariable(5000),
		"small": colorVariable(10),
	}
	result, err := s.Chunk(vars, NewContext("fk", 1024))
	require.NoError(t, err)

	found := false
	for _, c := range result.Chunks[1:] {
		if data, ok := c.Data.(map[string]any); ok {
			if _, hasHuge := data["huge"]; hasHuge {
				found = true
				assert.Len(t, data, 1, "an oversized singleton is emitted alone")
			}
		}
	}
	assert.True(t, found)
}
