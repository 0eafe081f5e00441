// Package query implements the graph query language (C11): target patterns
// and a handful of set-producing functions evaluated over a BuildGraph.
// Queries are read-only: no function in this package mutates the graph.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/builder/internal/graph"
)

// Set is an unordered collection of target IDs produced by a query. Sorted()
// gives callers (CLI rendering, tests) a deterministic view.
type Set map[string]struct{}

func newSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Sorted returns the set's members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s Set) add(id string) { s[id] = struct{}{} }

func union(sets ...Set) Set {
	out := make(Set)
	for _, s := range sets {
		for id := range s {
			out.add(id)
		}
	}
	return out
}

// Error is a query evaluation/parse failure; Msg is user-facing.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func errf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Eval parses and evaluates expr against g, returning the matched target IDs.
func Eval(g *graph.BuildGraph, expr string) (Set, error) {
	p := &parser{tokens: tokenize(expr), g: g}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, errf("unexpected trailing input at %q", p.remainder())
	}
	return node.eval()
}

// astNode is a parsed query expression ready to evaluate.
type astNode interface {
	eval() (Set, error)
}

// patternNode matches a target pattern: //..., //path/..., //path:name, //path:*.
type patternNode struct {
	g       *graph.BuildGraph
	pattern string
}

func (n *patternNode) eval() (Set, error) {
	out := newSet()
	for _, id := range n.g.IDs() {
		if patternMatches(n.pattern, id) {
			out.add(id)
		}
	}
	return out, nil
}

// patternMatches implements the four pattern shapes the engine supports.
func patternMatches(pattern, targetID string) bool {
	switch {
	case pattern == "//...":
		return true
	case strings.HasSuffix(pattern, "/..."):
		prefix := strings.TrimSuffix(pattern, "/...")
		path, _ := splitTargetID(targetID)
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	case strings.HasSuffix(pattern, ":*"):
		prefix := strings.TrimSuffix(pattern, ":*")
		path, _ := splitTargetID(targetID)
		return path == prefix
	default:
		return pattern == targetID
	}
}

func splitTargetID(id string) (path, name string) {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return id, ""
	}
	return id[:idx], id[idx+1:]
}

// depsNode implements deps(e[, depth]): the transitive (or depth-bounded)
// dependency closure of e's members, excluding e's members themselves.
type depsNode struct {
	g      *graph.BuildGraph
	arg    astNode
	depth  int // 0 = unbounded
}

func (n *depsNode) eval() (Set, error) {
	roots, err := n.arg.eval()
	if err != nil {
		return nil, err
	}
	out := newSet()
	for root := range roots {
		walkDeps(n.g, root, n.depth, out)
	}
	for root := range roots {
		delete(out, root)
	}
	return out, nil
}

// walkDeps adds every target transitively reachable from id via Deps() to
// out. maxDepth <= 0 means unbounded; maxDepth == 1 means direct deps only.
func walkDeps(g *graph.BuildGraph, id string, maxDepth int, out Set) {
	node := g.Node(id)
	if node == nil {
		return
	}
	for _, dep := range node.Deps() {
		if _, seen := out[dep]; seen {
			continue
		}
		out.add(dep)
		if maxDepth <= 0 || maxDepth > 1 {
			nextDepth := maxDepth
			if nextDepth > 0 {
				nextDepth--
			}
			walkDeps(g, dep, nextDepth, out)
		}
	}
}

// rdepsNode implements rdeps(e): every node that transitively depends on a
// member of e.
type rdepsNode struct {
	g   *graph.BuildGraph
	arg astNode
}

func (n *rdepsNode) eval() (Set, error) {
	roots, err := n.arg.eval()
	if err != nil {
		return nil, err
	}
	out := newSet()
	for root := range roots {
		walkRdeps(n.g, root, out)
	}
	for root := range roots {
		delete(out, root)
	}
	return out, nil
}

func walkRdeps(g *graph.BuildGraph, id string, out Set) {
	node := g.Node(id)
	if node == nil {
		return
	}
	for _, dependent := range node.Dependents() {
		if _, seen := out[dependent]; seen {
			continue
		}
		out.add(dependent)
		walkRdeps(g, dependent, out)
	}
}

// kindNode implements kind(type, e): members of e whose Target.Type matches.
type kindNode struct {
	g        *graph.BuildGraph
	wantType string
	arg      astNode
}

func (n *kindNode) eval() (Set, error) {
	members, err := n.arg.eval()
	if err != nil {
		return nil, err
	}
	out := newSet()
	for id := range members {
		node := n.g.Node(id)
		if node != nil && string(node.Target.Type) == n.wantType {
			out.add(id)
		}
	}
	return out, nil
}

// attrNode implements attr(name, value, e): members of e whose named
// attribute equals value. Supported attribute names: language, type, env:<K>.
type attrNode struct {
	g     *graph.BuildGraph
	name  string
	value string
	arg   astNode
}

func (n *attrNode) eval() (Set, error) {
	members, err := n.arg.eval()
	if err != nil {
		return nil, err
	}
	out := newSet()
	for id := range members {
		node := n.g.Node(id)
		if node == nil {
			continue
		}
		if attrMatches(node.Target, n.name, n.value) {
			out.add(id)
		}
	}
	return out, nil
}

func attrMatches(t graph.Target, name, value string) bool {
	switch {
	case name == "language":
		return t.Language == value
	case name == "type":
		return string(t.Type) == value
	case strings.HasPrefix(name, "env:"):
		key := strings.TrimPrefix(name, "env:")
		v, ok := t.Env[key]
		return ok && v == value
	default:
		return false
	}
}

// allpathsNode implements allpaths(from, to): every node on some dependency
// path between a "from" target and a "to" target, evaluated by DFS with an
// active-path stack.
type allpathsNode struct {
	g        *graph.BuildGraph
	from, to astNode
}

func (n *allpathsNode) eval() (Set, error) {
	froms, err := n.from.eval()
	if err != nil {
		return nil, err
	}
	tos, err := n.to.eval()
	if err != nil {
		return nil, err
	}
	out := newSet()
	for from := range froms {
		stack := []string{}
		visiting := make(map[string]bool)
		allPathsDFS(n.g, from, tos, stack, visiting, out)
	}
	return out, nil
}

// allPathsDFS walks the dependency direction (from depends on ... to) and
// records every node on a path that reaches a member of to.
func allPathsDFS(g *graph.BuildGraph, id string, to Set, stack []string, visiting map[string]bool, out Set) bool {
	if visiting[id] {
		return false // guard against cycles; BuildGraph is acyclic by construction
	}
	visiting[id] = true
	defer delete(visiting, id)
	stack = append(stack, id)

	reached := false
	if _, ok := to[id]; ok {
		reached = true
	}
	node := g.Node(id)
	if node != nil {
		for _, dep := range node.Deps() {
			if allPathsDFS(g, dep, to, stack, visiting, out) {
				reached = true
			}
		}
	}
	if reached {
		for _, onPath := range stack {
			out.add(onPath)
		}
	}
	return reached
}
