// Copyright 2025 James Ross
package strategy

import (
	"fmt"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

// NodeStrategy splits a design node tree. Oversized or structurally heavy
// children are extracted into their own chunks and replaced in the parent's
// children array with reference objects carrying the owning chunk id.
type NodeStrategy struct{}

func (NodeStrategy) Type() chunk.Type { return chunk.TypeNode }

func (NodeStrategy) ShouldChunk(data any, ctx *Context) bool {
	return chunk.ShouldSplitNode(data, ctx.MaxSize)
}

func (s NodeStrategy) Chunk(data any, ctx *Context) (*chunk.Result, error) {
	if ctx.Depth > MaxDepth {
		return nil, fmt.Errorf("%w: node recursion at depth %d", chunk.ErrDepthExceeded, ctx.Depth)
	}

	node, ok := data.(map[string]any)
	if !ok {
		// A non-object leaf cannot be split further; wrap it whole.
		id := chunk.GenerateID(ctx.FileKey, chunk.TypeNode, syntheticNodeID())
		c := chunk.New(id, ctx.FileKey, chunk.TypeNode, data)
		return &chunk.Result{Chunks: []*chunk.Chunk{c}, PrimaryChunkID: id, References: []string{}}, nil
	}

	sourceID := chunk.StringField(node, "id")
	if sourceID == "" {
		sourceID = freshSyntheticNodeID(ctx.IDMap)
	}
	primaryID, ok := ctx.IDMap[sourceID]
	if !ok {
		primaryID = chunk.GenerateID(ctx.FileKey, chunk.TypeNode, sourceID)
		ctx.IDMap[sourceID] = primaryID
	}

	if !s.ShouldChunk(data, ctx) {
		c := chunk.New(primaryID, ctx.FileKey, chunk.TypeNode, copyNode(node))
		return &chunk.Result{Chunks: []*chunk.Chunk{c}, PrimaryChunkID: primaryID, References: []string{}}, nil
	}

	primary := copyNode(node)
	children, _ := node["children"].([]any)

	type extraction struct {
		child   map[string]any
		chunkID string
		path    string
	}
	var extracted []extraction

	if len(children) > 0 {
		// Each child is judged against its share of the parent's budget, so
		// a parent that must split sheds the children that crowd it out.
		childBudget := ctx.MaxSize / len(children)
		if childBudget < 1 {
			childBudget = 1
		}
		rewritten := make([]any, 0, len(children))
		for i, raw := range children {
			child, ok := raw.(map[string]any)
			if !ok || !chunk.ShouldSplitNode(child, childBudget) {
				rewritten = append(rewritten, raw)
				continue
			}

			childSourceID := chunk.StringField(child, "id")
			if childSourceID == "" {
				childSourceID = freshSyntheticNodeID(ctx.IDMap)
				child = copyNode(child)
				child["id"] = childSourceID
			}
			childChunkID, seen := ctx.IDMap[childSourceID]
			if !seen {
				childChunkID = chunk.GenerateID(ctx.FileKey, chunk.TypeNode, childSourceID)
				ctx.IDMap[childSourceID] = childChunkID
			}

			rewritten = append(rewritten, map[string]any{
				"id":      childSourceID,
				"name":    chunk.StringField(child, "name"),
				"type":    chunk.StringField(child, "type"),
				"chunkId": childChunkID,
			})
			extracted = append(extracted, extraction{
				child:   child,
				chunkID: childChunkID,
				path:    childPathElem(child, i),
			})
		}
		primary["children"] = rewritten
	}

	primaryChunk := chunk.New(primaryID, ctx.FileKey, chunk.TypeNode, primary)
	result := &chunk.Result{
		Chunks:         []*chunk.Chunk{primaryChunk},
		PrimaryChunkID: primaryID,
		References:     []string{},
	}

	seen := make(map[string]bool)
	for _, ex := range extracted {
		childResult, err := s.Chunk(ex.child, ctx.Child(primaryID, ex.path))
		if err != nil {
			return nil, err
		}
		primaryChunk.Links = appendUnique(primaryChunk.Links, seen, ex.chunkID)
		primaryChunk.Links = appendUnique(primaryChunk.Links, seen, childResult.References...)
		result.Chunks = append(result.Chunks, childResult.Chunks...)
	}
	result.References = append(result.References, primaryChunk.Links...)

	return result, nil
}

func childPathElem(child map[string]any, index int) string {
	if name := chunk.StringField(child, "name"); name != "" {
		return name
	}
	if id := chunk.StringField(child, "id"); id != "" {
		return id
	}
	return fmt.Sprintf("child-%d", index)
}

func syntheticNodeID() string {
	return fmt.Sprintf("node-%d", time.Now().UnixMilli())
}

// freshSyntheticNodeID avoids handing two id-less siblings chunked within
// the same millisecond the same synthetic id.
func freshSyntheticNodeID(idMap map[string]string) string {
	id := syntheticNodeID()
	for n := 1; ; n++ {
		if _, taken := idMap[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s-%d", syntheticNodeID(), n)
	}
}

// copyNode shallow-copies a node map so in-place children rewrites never
// mutate the caller's document.
func copyNode(node map[string]any) map[string]any {
	copied := make(map[string]any, len(node))
	for k, v := range node {
		copied[k] = v
	}
	return copied
}
