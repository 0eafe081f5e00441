package query

import (
	"testing"

	"github.com/kraklabs/builder/internal/graph"
)

func appLibGraph(t *testing.T) *graph.BuildGraph {
	t.Helper()
	g, err := graph.New([]graph.Target{
		{ID: "//lib:a", Type: graph.TargetLibrary, Language: "go", Sources: []string{"a.go"}},
		{ID: "//lib:b", Type: graph.TargetLibrary, Language: "go", Sources: []string{"b.go"}},
		{ID: "//app:main", Type: graph.TargetExecutable, Language: "go", Sources: []string{"main.go"}, Deps: []string{"//lib:a", "//lib:b"}},
	})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return g
}

func evalSorted(t *testing.T, g *graph.BuildGraph, expr string) []string {
	t.Helper()
	set, err := Eval(g, expr)
	if err != nil {
		t.Fatalf("Eval(%q): %v", expr, err)
	}
	return set.Sorted()
}

func TestDepsReturnsDirectDependencies(t *testing.T) {
	g := appLibGraph(t)
	got := evalSorted(t, g, "deps(//app:main)")
	want := []string{"//lib:a", "//lib:b"}
	assertEqualStrings(t, want, got)
}

func TestRdepsReturnsDependents(t *testing.T) {
	g := appLibGraph(t)
	got := evalSorted(t, g, "rdeps(//lib:a)")
	want := []string{"//app:main"}
	assertEqualStrings(t, want, got)
}

func TestKindFiltersByType(t *testing.T) {
	g := appLibGraph(t)
	got := evalSorted(t, g, "kind(library, //...)")
	want := []string{"//lib:a", "//lib:b"}
	assertEqualStrings(t, want, got)
}

func TestAllpathsIncludesEndpointsAndIntermediates(t *testing.T) {
	g, err := graph.New([]graph.Target{
		{ID: "//a", Sources: []string{"a"}},
		{ID: "//b", Deps: []string{"//a"}},
		{ID: "//c", Deps: []string{"//b"}},
		{ID: "//d"}, // unrelated
	})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	got := evalSorted(t, g, "allpaths(//c, //a)")
	want := []string{"//a", "//b", "//c"}
	assertEqualStrings(t, want, got)
}

func TestAttrMatchesLanguage(t *testing.T) {
	g := appLibGraph(t)
	got := evalSorted(t, g, "attr(language, go, //...)")
	want := []string{"//app:main", "//lib:a", "//lib:b"}
	assertEqualStrings(t, want, got)
}

func TestPathPrefixPattern(t *testing.T) {
	g := appLibGraph(t)
	got := evalSorted(t, g, "//lib/...")
	want := []string{"//lib:a", "//lib:b"}
	assertEqualStrings(t, want, got)
}

func TestDepsWithDepthLimit(t *testing.T) {
	g, err := graph.New([]graph.Target{
		{ID: "//a"},
		{ID: "//b", Deps: []string{"//a"}},
		{ID: "//c", Deps: []string{"//b"}},
	})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	got := evalSorted(t, g, "deps(//c, 1)")
	want := []string{"//b"}
	assertEqualStrings(t, want, got)

	gotFull := evalSorted(t, g, "deps(//c)")
	wantFull := []string{"//a", "//b"}
	assertEqualStrings(t, wantFull, gotFull)
}

func TestUnknownFunctionIsRejected(t *testing.T) {
	g := appLibGraph(t)
	if _, err := Eval(g, "bogus(//...)"); err != nil {
		// bogus(...) is parsed as pattern "bogus" followed by trailing
		// "(//...)" which is a syntax error; either way this must fail.
		return
	}
	t.Fatalf("expected an error for an unrecognized function")
}

func assertEqualStrings(t *testing.T, want, got []string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}
