// Copyright 2025 James Ross
package strategy

import (
	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

// MaxDepth caps strategy recursion. Inputs that nest deeper are considered
// malformed or adversarial.
const MaxDepth = 100

// Strategy is the type-specific split algorithm contract. Implementations
// must register every source id they process into ctx.IDMap, emit links only
// to chunk ids produced in the same call (or by siblings sharing the id map),
// and bound their recursion by MaxDepth.
type Strategy interface {
	Chunk(data any, ctx *Context) (*chunk.Result, error)
	ShouldChunk(data any, ctx *Context) bool
	Type() chunk.Type
}

// Context is the per-operation state propagated through a chunking call.
// The IDMap is shared by reference across child contexts so sibling
// strategies observe each other's assignments.
type Context struct {
	FileKey  string
	MaxSize  int
	ParentID string
	Path     []string
	Depth    int
	IDMap    map[string]string
}

// NewContext builds the root context for one chunking invocation.
func NewContext(fileKey string, maxSize int) *Context {
	return &Context{
		FileKey: fileKey,
		MaxSize: maxSize,
		Path:    []string{},
		IDMap:   make(map[string]string),
	}
}

// Child derives the context for a nested strategy call. The path element is
// appended to a copied path; the id map is shared.
func (c *Context) Child(parentID, pathElem string) *Context {
	path := make([]string, 0, len(c.Path)+1)
	path = append(path, c.Path...)
	path = append(path, pathElem)
	return &Context{
		FileKey:  c.FileKey,
		MaxSize:  c.MaxSize,
		ParentID: parentID,
		Path:     path,
		Depth:    c.Depth + 1,
		IDMap:    c.IDMap,
	}
}

// appendUnique appends each id to dst unless already present, preserving
// first-seen order.
func appendUnique(dst []string, seen map[string]bool, ids ...string) []string {
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		dst = append(dst, id)
	}
	return dst
}
