package targetcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func openTestCache(t *testing.T, workspaceRoot string) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.bin")
	var corrupted []string
	c, err := Open(workspaceRoot, path, DefaultEvictionPolicy(), func(reason string) {
		corrupted = append(corrupted, reason)
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestIsCached_MissesOnUnknownTarget(t *testing.T) {
	ws := t.TempDir()
	c := openTestCache(t, ws)
	if c.IsCached("//foo:bar", nil, nil) {
		t.Fatal("expected miss on unknown target")
	}
}

func TestUpdateThenIsCached_HitsWhenSourcesUnchanged(t *testing.T) {
	ws := t.TempDir()
	src := filepath.Join(ws, "main.go")
	writeFile(t, src, "package main")

	c := openTestCache(t, ws)
	if err := c.Update("//foo:bar", []string{src}, nil, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !c.IsCached("//foo:bar", []string{src}, nil) {
		t.Fatal("expected hit with unchanged source")
	}
}

func TestIsCached_MissesWhenSourceContentChanges(t *testing.T) {
	ws := t.TempDir()
	src := filepath.Join(ws, "main.go")
	writeFile(t, src, "package main")

	c := openTestCache(t, ws)
	if err := c.Update("//foo:bar", []string{src}, nil, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Sleep so the metadata (mtime) tier can't short-circuit on its own,
	// then change content so the content-tier comparison must catch it.
	time.Sleep(10 * time.Millisecond)
	writeFile(t, src, "package main\n\nfunc main() {}")

	if c.IsCached("//foo:bar", []string{src}, nil) {
		t.Fatal("expected miss after source content changed")
	}
}

func TestIsCached_MissesWhenSourceMissing(t *testing.T) {
	ws := t.TempDir()
	src := filepath.Join(ws, "main.go")
	writeFile(t, src, "package main")

	c := openTestCache(t, ws)
	if err := c.Update("//foo:bar", []string{src}, nil, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := os.Remove(src); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.IsCached("//foo:bar", []string{src}, nil) {
		t.Fatal("expected miss when source file is gone")
	}
}

func TestIsCached_MissesWhenDepBuildHashChanges(t *testing.T) {
	ws := t.TempDir()
	c := openTestCache(t, ws)

	if err := c.Update("//dep:lib", nil, nil, "dephash-v1"); err != nil {
		t.Fatalf("Update dep: %v", err)
	}
	if err := c.Update("//foo:bar", nil, []string{"//dep:lib"}, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !c.IsCached("//foo:bar", nil, []string{"//dep:lib"}) {
		t.Fatal("expected hit before dep changes")
	}

	if err := c.Update("//dep:lib", nil, nil, "dephash-v2"); err != nil {
		t.Fatalf("Update dep v2: %v", err)
	}
	if c.IsCached("//foo:bar", nil, []string{"//dep:lib"}) {
		t.Fatal("expected miss after dep's build hash changed")
	}
}

func TestFlushThenReopen_RoundTripsEntries(t *testing.T) {
	ws := t.TempDir()
	src := filepath.Join(ws, "main.go")
	writeFile(t, src, "package main")

	path := filepath.Join(t.TempDir(), "cache.bin")
	c, err := Open(ws, path, DefaultEvictionPolicy(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Update("//foo:bar", []string{src}, nil, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := c.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(ws, path, DefaultEvictionPolicy(), func(reason string) {
		t.Fatalf("unexpected corruption on reopen: %s", reason)
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.IsCached("//foo:bar", []string{src}, nil) {
		t.Fatal("expected hit after reopening a flushed cache")
	}
}

func TestOpen_ResetsWithLogWhenSignedByDifferentWorkspace(t *testing.T) {
	wsA := t.TempDir()
	wsB := t.TempDir()
	path := filepath.Join(t.TempDir(), "cache.bin")

	c, err := Open(wsA, path, DefaultEvictionPolicy(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Update("//foo:bar", nil, nil, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := c.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var reasons []string
	reopened, err := Open(wsB, path, DefaultEvictionPolicy(), func(reason string) {
		reasons = append(reasons, reason)
	})
	if err != nil {
		t.Fatalf("reopen under different workspace: %v", err)
	}
	if len(reasons) == 0 {
		t.Fatal("expected a signature verification failure to be reported")
	}
	if reopened.IsCached("//foo:bar", nil, nil) {
		t.Fatal("expected the cache to start empty after signature verification failure")
	}
}

func TestLookup_ReturnsIndependentCopy(t *testing.T) {
	ws := t.TempDir()
	c := openTestCache(t, ws)
	if err := c.Update("//foo:bar", nil, []string{"//dep:lib"}, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	e, ok := c.Lookup("//foo:bar")
	if !ok {
		t.Fatal("expected entry to be found")
	}
	e.DepHashes["//dep:lib"] = "tampered"

	e2, _ := c.Lookup("//foo:bar")
	if e2.DepHashes["//dep:lib"] == "tampered" {
		t.Fatal("Lookup must return a copy, not a reference to internal state")
	}
}

func TestFlush_EvictsEntriesOlderThanMaxAge(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(t.TempDir(), "cache.bin")
	policy := EvictionPolicy{MaxSizeBytes: 1 << 30, MaxEntries: 10_000, MaxAge: 1 * time.Millisecond}
	c, err := Open(ws, path, policy, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Update("//foo:bar", nil, nil, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.Flush(true); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if c.IsCached("//foo:bar", nil, nil) {
		t.Fatal("expected entry to be evicted once past MaxAge")
	}
}

func TestFlush_EvictsOldestByLastAccessWhenOverMaxEntries(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(t.TempDir(), "cache.bin")
	policy := EvictionPolicy{MaxSizeBytes: 1 << 30, MaxEntries: 1, MaxAge: 30 * 24 * time.Hour}
	c, err := Open(ws, path, policy, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Update("//old:target", nil, nil, "hash-old"); err != nil {
		t.Fatalf("Update old: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.Update("//new:target", nil, nil, "hash-new"); err != nil {
		t.Fatalf("Update new: %v", err)
	}
	if err := c.Flush(true); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if c.IsCached("//old:target", nil, nil) {
		t.Fatal("expected the older entry to be evicted once over MaxEntries")
	}
	if !c.IsCached("//new:target", nil, nil) {
		t.Fatal("expected the newer entry to survive eviction")
	}
}

func TestUpdate_HashesManySourcesInParallel(t *testing.T) {
	ws := t.TempDir()
	var sources []string
	for i := 0; i < 8; i++ {
		src := filepath.Join(ws, string(rune('a'+i))+".txt")
		writeFile(t, src, "content")
		sources = append(sources, src)
	}

	c := openTestCache(t, ws)
	if err := c.Update("//many:srcs", sources, nil, "outhash1"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !c.IsCached("//many:srcs", sources, nil) {
		t.Fatal("expected hit after updating with more than four sources")
	}
}
