package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/builder/internal/graph"
)

func twoNodeGraph(t *testing.T) *graph.BuildGraph {
	t.Helper()
	g, err := graph.New([]graph.Target{
		{ID: "//a", Type: graph.TargetLibrary, Sources: []string{"a.c"}},
		{ID: "//b", Type: graph.TargetLibrary, Sources: []string{"b.c"}, Deps: []string{"//a"}},
	})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return g
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	g := twoNodeGraph(t)
	if err := g.MarkBuilding("//a"); err != nil {
		t.Fatalf("mark building: %v", err)
	}
	if _, err := g.Complete("//a", false, "hash-a"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	cp := FromGraph("/workspace", g)
	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	if err := Save(path, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok := Load(path)
	if !ok {
		t.Fatal("expected checkpoint to load")
	}
	if loaded.NodeStates["//a"] != graph.Success {
		t.Fatalf("expected //a Success, got %v", loaded.NodeStates["//a"])
	}
	if loaded.NodeHashes["//a"] != "hash-a" {
		t.Fatalf("expected hash-a, got %q", loaded.NodeHashes["//a"])
	}
	if loaded.NodeStates["//b"] != graph.Pending {
		t.Fatalf("expected //b Pending, got %v", loaded.NodeStates["//b"])
	}
}

func TestMerge_AdoptsCompletedNodesOnly(t *testing.T) {
	g := twoNodeGraph(t)
	cp := &Checkpoint{
		Timestamp: time.Now(),
		NodeStates: map[string]graph.Status{
			"//a": graph.Success,
			"//b": graph.Pending,
		},
		NodeHashes: map[string]string{"//a": "hash-a"},
	}

	if !Merge(g, cp) {
		t.Fatal("expected merge to apply")
	}
	if g.Node("//a").Status != graph.Success {
		t.Fatalf("expected //a adopted as Success, got %v", g.Node("//a").Status)
	}
	if g.Node("//a").OutputHash != "hash-a" {
		t.Fatalf("expected output hash adopted, got %q", g.Node("//a").OutputHash)
	}
	if g.Node("//b").Status != graph.Pending {
		t.Fatalf("expected //b to stay Pending, got %v", g.Node("//b").Status)
	}
}

func TestMerge_RejectsStaleCheckpoint(t *testing.T) {
	g := twoNodeGraph(t)
	cp := &Checkpoint{
		Timestamp:  time.Now().Add(-48 * time.Hour),
		NodeStates: map[string]graph.Status{"//a": graph.Success, "//b": graph.Pending},
	}
	if Merge(g, cp) {
		t.Fatal("expected stale checkpoint to be rejected")
	}
	if g.Node("//a").Status != graph.Pending {
		t.Fatal("expected node to remain untouched after a rejected merge")
	}
}

func TestMerge_RejectsMismatchedNodeSet(t *testing.T) {
	g := twoNodeGraph(t)
	cp := &Checkpoint{
		Timestamp:  time.Now(),
		NodeStates: map[string]graph.Status{"//a": graph.Success},
	}
	if Merge(g, cp) {
		t.Fatal("expected a checkpoint over a different node set to be rejected")
	}
}

func TestWriter_RateLimitsNonForcedWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	w := NewWriter(path, time.Hour)
	cp := &Checkpoint{Timestamp: time.Now(), NodeStates: map[string]graph.Status{}}

	if err := w.MaybeSave(cp, false); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, ok := Load(path); !ok {
		t.Fatal("expected first save to land on disk")
	}

	// Remove it and confirm the rate limiter blocks the very next non-forced save.
	if err := Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := w.MaybeSave(cp, false); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, ok := Load(path); ok {
		t.Fatal("expected rate limiter to suppress the immediate second write")
	}

	if err := w.MaybeSave(cp, true); err != nil {
		t.Fatalf("forced save: %v", err)
	}
	if _, ok := Load(path); !ok {
		t.Fatal("expected forced save to bypass the rate limiter")
	}
}
