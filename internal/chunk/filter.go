// Copyright 2025 James Ross
package chunk

import (
	"sort"
	"time"
)

// SortField names a Summary field listings can be ordered by.
type SortField string

const (
	SortByID      SortField = "id"
	SortByFileKey SortField = "fileKey"
	SortByType    SortField = "type"
	SortByCreated SortField = "created"
	SortBySize    SortField = "size"
)

// SortDirection is the ordering direction of a listing.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Filter selects and orders chunks for list operations. Zero values mean
// "no constraint"; WithDefaults fills the listing defaults.
type Filter struct {
	FileKey        string        `json:"fileKey,omitempty"`
	Type           Type          `json:"type,omitempty"`
	OlderThan      *time.Time    `json:"olderThan,omitempty"`
	NewerThan      *time.Time    `json:"newerThan,omitempty"`
	IncludeExpired bool          `json:"includeExpired"`
	Limit          int           `json:"limit"`
	SortBy         SortField     `json:"sortBy"`
	SortDirection  SortDirection `json:"sortDirection"`
}

// DefaultLimit caps listings when the caller does not set one.
const DefaultLimit = 100

// WithDefaults returns a copy of f with listing defaults applied.
func (f Filter) WithDefaults() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.SortBy == "" {
		f.SortBy = SortByCreated
	}
	if f.SortDirection == "" {
		f.SortDirection = SortDesc
	}
	return f
}

// Matches reports whether the chunk satisfies every predicate in the filter.
// Expiry is evaluated against now.
func (f Filter) Matches(c *Chunk, now time.Time) bool {
	if f.FileKey != "" && c.FileKey != f.FileKey {
		return false
	}
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.OlderThan != nil && !c.Created.Before(*f.OlderThan) {
		return false
	}
	if f.NewerThan != nil && !c.Created.After(*f.NewerThan) {
		return false
	}
	if !f.IncludeExpired && c.Expired(now) {
		return false
	}
	return true
}

// Apply filters, sorts and truncates a set of chunks into summaries per the
// filter's semantics.
func (f Filter) Apply(chunks []*Chunk, now time.Time) []Summary {
	f = f.WithDefaults()
	summaries := make([]Summary, 0, len(chunks))
	for _, c := range chunks {
		if f.Matches(c, now) {
			summaries = append(summaries, c.Summary())
		}
	}
	SortSummaries(summaries, f.SortBy, f.SortDirection)
	if len(summaries) > f.Limit {
		summaries = summaries[:f.Limit]
	}
	return summaries
}

// SortSummaries orders summaries in place by the given field and direction.
func SortSummaries(s []Summary, by SortField, dir SortDirection) {
	less := func(a, b Summary) bool {
		switch by {
		case SortByID:
			return a.ID < b.ID
		case SortByFileKey:
			return a.FileKey < b.FileKey
		case SortByType:
			return a.Type < b.Type
		case SortBySize:
			return a.Size < b.Size
		default:
			return a.Created.Before(b.Created)
		}
	}
	sort.SliceStable(s, func(i, j int) bool {
		if dir == SortAsc {
			return less(s[i], s[j])
		}
		return less(s[j], s[i])
	})
}
