// Copyright 2025 James Ross
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

// Timestamps persisted as JSON are wrapped in a sentinel object so they
// round-trip with full fidelity: {"__date":true,"value":"<ISO-8601>"}.
// The same payload encoding is shared by the filesystem and key-value
// backends.

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type jsonDate struct {
	time.Time
}

func (d jsonDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"__date": true,
		"value":  d.UTC().Format(isoMillis),
	})
}

func (d *jsonDate) UnmarshalJSON(b []byte) error {
	// Accept both the sentinel wrapper and a bare ISO-8601 string.
	var wrapper struct {
		Date  bool   `json:"__date"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(b, &wrapper); err == nil && wrapper.Date {
		return d.parse(wrapper.Value)
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp is neither a date sentinel nor a string: %s", b)
	}
	return d.parse(s)
}

func (d *jsonDate) parse(s string) error {
	for _, layout := range []string{isoMillis, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

// storedChunk is the persisted JSON shape of a chunk.
type storedChunk struct {
	ID           string     `json:"id"`
	FileKey      string     `json:"fileKey"`
	Type         chunk.Type `json:"type"`
	Created      jsonDate   `json:"created"`
	LastAccessed jsonDate   `json:"lastAccessed"`
	Expires      *jsonDate  `json:"expires,omitempty"`
	Data         any        `json:"data"`
	Links        []string   `json:"links,omitempty"`
}

// EncodeChunk serializes a chunk to its persisted JSON form.
func EncodeChunk(c *chunk.Chunk) ([]byte, error) {
	stored := storedChunk{
		ID:           c.ID,
		FileKey:      c.FileKey,
		Type:         c.Type,
		Created:      jsonDate{c.Created},
		LastAccessed: jsonDate{c.LastAccessed},
		Data:         c.Data,
		Links:        c.Links,
	}
	if c.Expires != nil {
		stored.Expires = &jsonDate{*c.Expires}
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: encode chunk %s: %v", ErrPermanent, c.ID, err)
	}
	return b, nil
}

// DecodeChunk parses the persisted JSON form back into a chunk. Missing
// expires and empty links are accepted.
func DecodeChunk(b []byte) (*chunk.Chunk, error) {
	var stored storedChunk
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil, fmt.Errorf("%w: decode chunk: %v", ErrPermanent, err)
	}
	if stored.ID == "" {
		return nil, fmt.Errorf("%w: decoded chunk has no id", ErrPermanent)
	}
	c := &chunk.Chunk{
		ID:           stored.ID,
		FileKey:      stored.FileKey,
		Type:         stored.Type,
		Created:      stored.Created.Time,
		LastAccessed: stored.LastAccessed.Time,
		Data:         stored.Data,
		Links:        stored.Links,
	}
	if stored.Expires != nil {
		expires := stored.Expires.Time
		c.Expires = &expires
	}
	if c.Links == nil {
		c.Links = []string{}
	}
	return c, nil
}
