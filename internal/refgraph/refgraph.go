// Copyright 2025 James Ross
package refgraph

// Graph is a directed graph of chunk-to-chunk links in adjacency-set
// representation. It is in-memory and not safe for concurrent use; callers
// confine an instance to a single task or wrap it.
type Graph struct {
	data  map[string]any
	out   map[string][]string
	in    map[string][]string
	seen  map[string]map[string]bool
	order []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		data: make(map[string]any),
		out:  make(map[string][]string),
		in:   make(map[string][]string),
		seen: make(map[string]map[string]bool),
	}
}

// AddNode registers a chunk id, optionally attaching auxiliary data.
// Re-adding an existing node only updates its data.
func (g *Graph) AddNode(id string, data any) {
	if _, ok := g.out[id]; !ok {
		g.out[id] = nil
		g.in[id] = nil
		g.seen[id] = make(map[string]bool)
		g.order = append(g.order, id)
	}
	if data != nil {
		g.data[id] = data
	}
}

// NodeData returns auxiliary data attached to id, or nil.
func (g *Graph) NodeData(id string) any {
	return g.data[id]
}

// AddReference records a src -> dst edge, auto-adding both endpoints.
// Duplicate edges are ignored.
func (g *Graph) AddReference(src, dst string) {
	g.AddNode(src, nil)
	g.AddNode(dst, nil)
	if g.seen[src][dst] {
		return
	}
	g.seen[src][dst] = true
	g.out[src] = append(g.out[src], dst)
	g.in[dst] = append(g.in[dst], src)
}

// References returns the ids directly referenced by id, in insertion order.
func (g *Graph) References(id string) []string {
	return append([]string(nil), g.out[id]...)
}

// ReferencedBy returns the ids that directly reference id.
func (g *Graph) ReferencedBy(id string) []string {
	return append([]string(nil), g.in[id]...)
}

// Len returns the number of known nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Export returns the adjacency lists keyed by node id.
func (g *Graph) Export() map[string][]string {
	exported := make(map[string][]string, len(g.out))
	for id := range g.out {
		exported[id] = append([]string(nil), g.out[id]...)
	}
	return exported
}

// DetectCycles returns every cycle found by a depth-first search over the
// graph. Each cycle is reported as the slice of the DFS path from the
// revisited node forward, with the revisited node re-appended. All hits are
// retained; rotations of the same cycle are not deduplicated. Cycles are
// reported, never mutated.
func (g *Graph) DetectCycles() [][]string {
	visited := make(map[string]bool, len(g.order))
	onStack := make(map[string]bool, len(g.order))
	var path []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range g.out[id] {
			if onStack[next] {
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle := append([]string(nil), path[start:]...)
				cycle = append(cycle, next)
				cycles = append(cycles, cycle)
				continue
			}
			if !visited[next] {
				visit(next)
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
	}

	for _, id := range g.order {
		if !visited[id] {
			visit(id)
		}
	}
	return cycles
}
