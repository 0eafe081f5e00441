package executor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/kraklabs/builder/internal/errs"
	"github.com/kraklabs/builder/internal/events"
	"github.com/kraklabs/builder/internal/graph"
	"github.com/kraklabs/builder/internal/handler"
	"github.com/kraklabs/builder/internal/retry"
	"github.com/kraklabs/builder/internal/targetcache"
)

// countingHandler succeeds after failAttempts failures, or always fails if
// failAttempts is negative.
type countingHandler struct {
	failAttempts int32
	calls        int32
}

func (h *countingHandler) Build(ctx context.Context, target graph.Target, workspace string) (string, error) {
	n := atomic.AddInt32(&h.calls, 1)
	if h.failAttempts < 0 || n <= h.failAttempts {
		return "", &errs.TransientIOError{Cause: context.DeadlineExceeded}
	}
	return "out-" + target.ID, nil
}

func (h *countingHandler) AnalyzeImports(sources []string) ([]handler.Import, error) { return nil, nil }

func newTestExecutor(t *testing.T, g *graph.BuildGraph, reg *handler.Registry) *Executor {
	t.Helper()
	dir := t.TempDir()
	cache, err := targetcache.Open(dir, filepath.Join(dir, "cache.bin"), targetcache.DefaultEvictionPolicy(), nil)
	if err != nil {
		t.Fatalf("targetcache.Open: %v", err)
	}
	return &Executor{
		Graph:     g,
		Cache:     cache,
		Handlers:  reg,
		Retry:     retry.Policy{MaxAttempts: 3},
		Bus:       events.New(),
		Workspace: dir,
		Config:    DefaultConfig(),
	}
}

func linearGraph(t *testing.T) *graph.BuildGraph {
	t.Helper()
	g, err := graph.New([]graph.Target{
		{ID: "//a", Type: graph.TargetLibrary, Language: "c", Sources: []string{"a.c"}},
		{ID: "//b", Type: graph.TargetLibrary, Language: "c", Sources: []string{"b.c"}, Deps: []string{"//a"}},
		{ID: "//c", Type: graph.TargetExecutable, Language: "c", Sources: []string{"c.c"}, Deps: []string{"//b"}},
	})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return g
}

func TestRun_BuildsEveryTargetInDependencyOrder(t *testing.T) {
	g := linearGraph(t)
	reg := handler.NewRegistry()
	reg.Register("c", &countingHandler{})

	e := newTestExecutor(t, g, reg)
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TargetsBuilt != 3 {
		t.Fatalf("expected 3 built targets, got %d (%+v)", summary.TargetsBuilt, summary)
	}
	if summary.TargetsFailed != 0 {
		t.Fatalf("expected no failures, got %d", summary.TargetsFailed)
	}
	for _, id := range []string{"//a", "//b", "//c"} {
		if g.Node(id).Status != graph.Success {
			t.Fatalf("expected %s Success, got %v", id, g.Node(id).Status)
		}
	}
}

func TestRun_MissingHandlerFailsOnlyThatSubtree(t *testing.T) {
	g := linearGraph(t)
	reg := handler.NewRegistry()
	// //a has no registered handler for language "c".

	e := newTestExecutor(t, g, reg)
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TargetsFailed != 3 {
		t.Fatalf("expected all 3 targets to fail (root + cascaded), got %d", summary.TargetsFailed)
	}
	if g.Node("//a").Status != graph.Failed {
		t.Fatalf("expected //a Failed, got %v", g.Node("//a").Status)
	}
	if g.Node("//b").Status != graph.Failed {
		t.Fatalf("expected //b cascaded to Failed, got %v", g.Node("//b").Status)
	}
}

func TestRun_RetriesTransientFailureThenSucceeds(t *testing.T) {
	g := linearGraph(t)
	reg := handler.NewRegistry()
	reg.Register("c", &countingHandler{failAttempts: 1})

	e := newTestExecutor(t, g, reg)
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TargetsBuilt != 3 {
		t.Fatalf("expected retried build to eventually succeed for all targets, got %+v", summary)
	}
}

func TestRun_SecondRunHitsCache(t *testing.T) {
	g := linearGraph(t)
	reg := handler.NewRegistry()
	h := &countingHandler{}
	reg.Register("c", h)

	e := newTestExecutor(t, g, reg)
	// The graph's sources are relative paths and the cache misses on a
	// missing source, so run from the workspace with the sources present.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(e.Workspace); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, name := range []string{"a.c", "b.c", "c.c"} {
		if err := os.WriteFile(name, []byte("int x;\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := atomic.LoadInt32(&h.calls)
	if firstCalls != 3 {
		t.Fatalf("expected 3 handler invocations on a cold cache, got %d", firstCalls)
	}

	g2 := linearGraph(t)
	e2 := &Executor{
		Graph:     g2,
		Cache:     e.Cache,
		Handlers:  reg,
		Retry:     retry.Policy{MaxAttempts: 3},
		Bus:       events.New(),
		Workspace: e.Workspace,
		Config:    DefaultConfig(),
	}
	summary, err := e2.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.TargetsCached != 3 {
		t.Fatalf("expected all 3 targets to hit cache on the second run, got %+v", summary)
	}
	if atomic.LoadInt32(&h.calls) != firstCalls {
		t.Fatalf("expected no new handler invocations on a warm cache")
	}
}

func TestRun_WorkStealingPoolProducesSameResult(t *testing.T) {
	g := linearGraph(t)
	reg := handler.NewRegistry()
	reg.Register("c", &countingHandler{})

	e := newTestExecutor(t, g, reg)
	e.Config.EnableWorkStealing = true
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TargetsBuilt != 3 {
		t.Fatalf("expected 3 built targets under work stealing, got %+v", summary)
	}
}
