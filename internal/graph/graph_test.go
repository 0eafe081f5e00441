package graph

import "testing"

func linearTargets() []Target {
	return []Target{
		{ID: "//a", Type: TargetLibrary, Language: "go", Sources: []string{"a.go"}},
		{ID: "//b", Type: TargetLibrary, Language: "go", Sources: []string{"b.go"}, Deps: []string{"//a"}},
	}
}

func TestNewRejectsCycle(t *testing.T) {
	targets := []Target{
		{ID: "//a", Deps: []string{"//b"}},
		{ID: "//b", Deps: []string{"//a"}},
	}
	_, err := New(targets)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	gerr, ok := err.(*Error)
	if !ok || gerr.Kind != KindCycle {
		t.Fatalf("expected *Error{Kind: KindCycle}, got %v", err)
	}
	if len(gerr.Path) == 0 {
		t.Fatalf("expected cycle path to name at least one node")
	}
}

func TestNewRejectsSelfLoop(t *testing.T) {
	_, err := New([]Target{{ID: "//a", Deps: []string{"//a"}}})
	if err == nil {
		t.Fatalf("expected self-loop to be rejected")
	}
}

func TestNewRejectsUnknownDep(t *testing.T) {
	_, err := New([]Target{{ID: "//a", Deps: []string{"//missing"}}})
	if err == nil {
		t.Fatalf("expected unknown dep to be rejected")
	}
}

func TestTopologicalSortRespectsDependencies(t *testing.T) {
	g, err := New(linearTargets())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	order := g.TopologicalSort()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["//a"] >= pos["//b"] {
		t.Fatalf("expected //a before //b, got order %v", order)
	}
}

func TestGetReadyNodesOnlyRootsInitially(t *testing.T) {
	g, err := New(linearTargets())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ready := g.GetReadyNodes()
	if len(ready) != 1 || ready[0].Target.ID != "//a" {
		t.Fatalf("expected only //a ready, got %v", ready)
	}
}

func TestCompleteUnlocksDependent(t *testing.T) {
	g, err := New(linearTargets())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.MarkBuilding("//a"); err != nil {
		t.Fatalf("MarkBuilding: %v", err)
	}
	newlyReady, err := g.Complete("//a", false, "hash-a")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(newlyReady) != 1 || newlyReady[0] != "//b" {
		t.Fatalf("expected //b to become ready, got %v", newlyReady)
	}
}

func TestFailAndPropagateCascades(t *testing.T) {
	targets := []Target{
		{ID: "//a"},
		{ID: "//b", Deps: []string{"//a"}},
		{ID: "//c", Deps: []string{"//b"}},
	}
	g, err := New(targets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = g.MarkBuilding("//a")
	if _, err := g.Complete("//a", false, "h"); err != nil {
		t.Fatalf("Complete //a: %v", err)
	}
	_ = g.MarkBuilding("//b")
	failed, err := g.FailAndPropagate("//b", nil)
	if err != nil {
		t.Fatalf("FailAndPropagate: %v", err)
	}
	want := map[string]bool{"//b": true, "//c": true}
	if len(failed) != len(want) {
		t.Fatalf("expected %d failed nodes, got %v", len(want), failed)
	}
	for _, id := range failed {
		if !want[id] {
			t.Fatalf("unexpected node %q marked failed", id)
		}
	}
	if g.Node("//c").Status != Failed {
		t.Fatalf("expected //c to be Failed, got %s", g.Node("//c").Status)
	}
	if g.Node("//a").Status != Success {
		t.Fatalf("expected //a to remain Success, got %s", g.Node("//a").Status)
	}
}

func TestGraphHashStableUnderTargetOrder(t *testing.T) {
	g1, err := New(linearTargets())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reversed := linearTargets()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	g2, err := New(reversed)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g1.Hash() != g2.Hash() {
		t.Fatalf("expected GraphHash to be independent of input order")
	}
}
