package graph

import (
	"container/heap"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/kraklabs/builder/internal/hash"
)

// BuildGraph is the DAG of BuildNodes for one build. Construction performs
// full validation (unknown deps, self-loops, duplicate edges, cycles) and
// computes a deterministic GraphHash so two runs over the same target set
// can cheaply confirm they addressed the same graph.
type BuildGraph struct {
	mu        sync.Mutex
	nodesByID map[string]*BuildNode
	order     []string // canonical order: by (DefinitionHash, ID)
	hash      string
}

// New constructs a BuildGraph from a target set. Edges are derived from each
// Target's Deps list (From = target ID, To = a dependency's target ID).
func New(targets []Target) (*BuildGraph, error) {
	nodesByID := make(map[string]*BuildNode, len(targets))
	for _, t := range targets {
		if t.ID == "" {
			return nil, invalidf("target has empty ID")
		}
		if _, dup := nodesByID[t.ID]; dup {
			return nil, invalidf("duplicate target id %q", t.ID)
		}
		nodesByID[t.ID] = &BuildNode{
			Target:         t,
			Status:         Pending,
			DefinitionHash: computeDefinitionHash(t),
		}
	}

	for _, n := range nodesByID {
		seen := make(map[string]bool, len(n.Target.Deps))
		for _, dep := range n.Target.Deps {
			if dep == n.Target.ID {
				return nil, invalidf("target %q depends on itself", n.Target.ID)
			}
			if _, ok := nodesByID[dep]; !ok {
				return nil, invalidf("target %q depends on unknown target %q", n.Target.ID, dep)
			}
			if seen[dep] {
				return nil, invalidf("target %q has duplicate dependency %q", n.Target.ID, dep)
			}
			seen[dep] = true
		}
	}

	// Canonical ordering: (DefinitionHash, ID) ascending. This makes every
	// derived structure (topo order, GraphHash, ready-node ties) independent
	// of the input target slice's order.
	order := make([]string, 0, len(nodesByID))
	for id := range nodesByID {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		ni, nj := nodesByID[order[i]], nodesByID[order[j]]
		if ni.DefinitionHash != nj.DefinitionHash {
			return ni.DefinitionHash < nj.DefinitionHash
		}
		return order[i] < order[j]
	})
	for i, id := range order {
		nodesByID[id].canonicalIndex = i
	}

	for _, n := range nodesByID {
		deps := append([]string(nil), n.Target.Deps...)
		sort.Strings(deps)
		n.deps = deps
		n.PendingDeps = int32(len(deps))
	}
	for _, n := range nodesByID {
		for _, dep := range n.deps {
			nodesByID[dep].dependents = append(nodesByID[dep].dependents, n.Target.ID)
		}
	}
	for _, n := range nodesByID {
		sort.Strings(n.dependents)
	}

	g := &BuildGraph{nodesByID: nodesByID, order: order}

	topo, err := g.topologicalSortIndices()
	if err != nil {
		return nil, err
	}
	g.computeDepths(topo)
	g.hash = g.computeGraphHash(topo)
	return g, nil
}

// Node returns the node for id, or nil if it is not present.
func (g *BuildGraph) Node(id string) *BuildNode { return g.nodesByID[id] }

// Nodes returns all nodes in canonical order.
func (g *BuildGraph) Nodes() []*BuildNode {
	nodes := make([]*BuildNode, len(g.order))
	for i, id := range g.order {
		nodes[i] = g.nodesByID[id]
	}
	return nodes
}

// IDs returns all target IDs in canonical order.
func (g *BuildGraph) IDs() []string { return append([]string(nil), g.order...) }

// Hash is the deterministic GraphHash for this graph's shape.
func (g *BuildGraph) Hash() string { return g.hash }

// TopologicalSort returns the canonical topological order computed at
// construction time. Since construction already rejects cycles, this never
// fails; it exists as a named operation per the engine's contract.
func (g *BuildGraph) TopologicalSort() []string {
	idx, _ := g.topologicalSortIndices()
	out := make([]string, len(idx))
	for i, ix := range idx {
		out[i] = g.order[ix]
	}
	return out
}

// Stats summarizes the graph's size and shape.
type Stats struct {
	NodeCount        int
	EdgeCount        int
	MaxDepth         int
	CriticalPathCost int
}

// Stats computes node/edge counts, max depth, and the highest critical-path
// cost among all nodes.
func (g *BuildGraph) Stats() Stats {
	s := Stats{NodeCount: len(g.order)}
	maxDepth := 0
	maxCost := 0
	for _, id := range g.order {
		n := g.nodesByID[id]
		s.EdgeCount += len(n.deps)
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
		if c := CriticalPathCost(n); c > maxCost {
			maxCost = c
		}
	}
	s.MaxDepth = maxDepth
	s.CriticalPathCost = maxCost
	return s
}

// CriticalPathCost implements the scheduler's tie-breaking cost function:
// BASE(100) + sourceCount*50 + depCount*10, scaled by a per-language factor.
func CriticalPathCost(n *BuildNode) int {
	base := 100 + len(n.Target.Sources)*50 + len(n.deps)*10
	factor := languageFactor(n.Target.Language)
	return int(float64(base) * factor)
}

func languageFactor(language string) float64 {
	switch language {
	case "cpp", "c++", "rust":
		return 2.0
	case "typescript", "ts", "javascript", "js":
		return 1.5
	case "python", "ruby":
		return 0.5
	default:
		return 1.0
	}
}

func computeDefinitionHash(t Target) string {
	deps := append([]string(nil), t.Deps...)
	sort.Strings(deps)
	sources := append([]string(nil), t.Sources...)
	sort.Strings(sources)
	flags := append([]string(nil), t.Flags...)
	sort.Strings(flags)

	envKeys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)

	parts := []string{t.ID, string(t.Type), t.Language, t.OutputPath}
	parts = append(parts, sources...)
	parts = append(parts, deps...)
	parts = append(parts, flags...)
	for _, k := range envKeys {
		parts = append(parts, k, t.Env[k])
	}
	return hash.HashStrings(parts)
}

func (g *BuildGraph) computeGraphHash(topoIdx []int) string {
	h := newFieldHasher()
	for _, idx := range topoIdx {
		id := g.order[idx]
		h.writeField([]byte(g.nodesByID[id].DefinitionHash))
	}
	edges := g.sortedEdges()
	for _, e := range edges {
		h.writeField([]byte(e.From))
		h.writeField([]byte(e.To))
	}
	return hex.EncodeToString(h.sum())
}

func (g *BuildGraph) sortedEdges() []Edge {
	var edges []Edge
	for _, id := range g.order {
		n := g.nodesByID[id]
		for _, dep := range n.deps {
			edges = append(edges, Edge{From: id, To: dep})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

func (g *BuildGraph) computeDepths(topoIdx []int) {
	// topoIdx is dependency-first (a node's deps appear before it), so a
	// single forward pass is enough to compute longest-path-from-any-root
	// depth.
	for _, idx := range topoIdx {
		id := g.order[idx]
		n := g.nodesByID[id]
		maxDepDepth := -1
		for _, dep := range n.deps {
			if d := g.nodesByID[dep].Depth; d > maxDepDepth {
				maxDepDepth = d
			}
		}
		n.Depth = maxDepDepth + 1
	}
}

// intMinHeap is a min-heap of canonical indices, used to make Kahn's
// algorithm's ready-set iteration order deterministic.
type intMinHeap []int

func (h intMinHeap) Len() int            { return len(h) }
func (h intMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// topologicalSortIndices runs Kahn's algorithm over canonical indices (deps
// first). On a cycle it returns a *Error naming every node on the cycle.
func (g *BuildGraph) topologicalSortIndices() ([]int, error) {
	n := len(g.order)
	indeg := make([]int, n)
	// adjacency from dependency -> dependents, expressed as indices.
	adj := make([][]int, n)
	for i, id := range g.order {
		node := g.nodesByID[id]
		indeg[i] = len(node.deps)
	}
	for i, id := range g.order {
		node := g.nodesByID[id]
		for _, dep := range node.deps {
			depIdx := g.nodesByID[dep].canonicalIndex
			adj[depIdx] = append(adj[depIdx], i)
		}
	}

	h := &intMinHeap{}
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			heap.Push(h, i)
		}
	}

	order := make([]int, 0, n)
	remaining := make([]int, n)
	copy(remaining, indeg)
	for h.Len() > 0 {
		idx := heap.Pop(h).(int)
		order = append(order, idx)
		for _, next := range adj[idx] {
			remaining[next]--
			if remaining[next] == 0 {
				heap.Push(h, next)
			}
		}
	}

	if len(order) != n {
		path := g.findCycleDeterministic()
		return nil, cycleError(path)
	}
	return order, nil
}

// findCycleDeterministic runs a DFS with white/gray/black coloring over
// canonical order to reconstruct one concrete cycle path for the error.
func (g *BuildGraph) findCycleDeterministic() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	parent := make(map[string]string, len(g.order))
	var cyclePath []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		node := g.nodesByID[id]
		for _, dep := range node.deps {
			switch color[dep] {
			case white:
				parent[dep] = id
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back edge id -> dep; reconstruct the cycle by
				// walking parents from id back to dep.
				path := []string{dep}
				cur := id
				for cur != dep {
					path = append(path, cur)
					cur = parent[cur]
				}
				path = append(path, dep)
				// path is currently [dep, id, ..., dep] in reverse discovery
				// order; reverse to present dep-first traversal order.
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				cyclePath = path
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return cyclePath
			}
		}
	}
	return nil
}

// fieldHasher length-prefixes every field written to it before feeding BLAKE3,
// matching the length-prefixed hashing discipline used across the codebase's
// binary formats (see internal/actioncache and internal/checkpoint).
type fieldHasher struct {
	buf []byte
}

func newFieldHasher() *fieldHasher { return &fieldHasher{} }

func (f *fieldHasher) writeField(b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	f.buf = append(f.buf, lenBuf[:]...)
	f.buf = append(f.buf, b...)
}

func (f *fieldHasher) sum() []byte {
	return hash.RawBytes(f.buf)
}
