// Copyright 2025 James Ross
package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterDefaults(t *testing.T) {
	f := Filter{}.WithDefaults()
	assert.Equal(t, DefaultLimit, f.Limit)
	assert.Equal(t, SortByCreated, f.SortBy)
	assert.Equal(t, SortDesc, f.SortDirection)
	assert.False(t, f.IncludeExpired)
}

func testChunk(id, fileKey string, t Type, created time.Time) *Chunk {
	return &Chunk{
		ID:           id,
		FileKey:      fileKey,
		Type:         t,
		Created:      created,
		LastAccessed: created,
		Data:         map[string]any{"id": id},
		Links:        []string{},
	}
}

func TestFilterMatches(t *testing.T) {
	now := time.Now()
	c := testChunk("f:node:a", "f", TypeNode, now)

	assert.True(t, Filter{}.Matches(c, now))
	assert.True(t, Filter{FileKey: "f"}.Matches(c, now))
	assert.False(t, Filter{FileKey: "other"}.Matches(c, now))
	assert.True(t, Filter{Type: TypeNode}.Matches(c, now))
	assert.False(t, Filter{Type: TypeMetadata}.Matches(c, now))

	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)
	assert.True(t, Filter{OlderThan: &later}.Matches(c, now))
	assert.False(t, Filter{OlderThan: &earlier}.Matches(c, now))
	assert.True(t, Filter{NewerThan: &earlier}.Matches(c, now))
	assert.False(t, Filter{NewerThan: &later}.Matches(c, now))

	expired := testChunk("f:node:b", "f", TypeNode, earlier)
	expiry := now.Add(-time.Minute)
	expired.Expires = &expiry
	assert.False(t, Filter{}.Matches(expired, now))
	assert.True(t, Filter{IncludeExpired: true}.Matches(expired, now))
}

func TestFilterApplySortAndLimit(t *testing.T) {
	now := time.Now()
	chunks := []*Chunk{
		testChunk("f:node:c", "f", TypeNode, now.Add(2*time.Second)),
		testChunk("f:node:a", "f", TypeNode, now),
		testChunk("f:node:b", "f", TypeNode, now.Add(time.Second)),
	}

	summaries := Filter{}.Apply(chunks, now)
	require.Len(t, summaries, 3)
	assert.Equal(t, "f:node:c", summaries[0].ID, "default sort is created desc")
	assert.Equal(t, "f:node:a", summaries[2].ID)

	summaries = Filter{SortBy: SortByID, SortDirection: SortAsc, Limit: 2}.Apply(chunks, now)
	require.Len(t, summaries, 2)
	assert.Equal(t, "f:node:a", summaries[0].ID)
	assert.Equal(t, "f:node:b", summaries[1].ID)
}
