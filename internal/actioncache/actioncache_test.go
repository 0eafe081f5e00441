package actioncache

import (
	"path/filepath"
	"testing"
)

func TestRecordLookup_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "action.bin"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	id := NewActionID("gcc -c a.c", map[string]string{"CC": "gcc"}, []string{"deadbeef"}, "caps-v1")
	c.Record(Entry{
		ID:           id,
		TargetID:     "//app:lib",
		SubID:        "compile:a.c",
		Type:         ActionCompile,
		HashOfInputs: HashInputs([]string{"deadbeef"}),
		Inputs:       []string{"a.c"},
		Outputs:      []string{"a.o"},
		InputHashes:  map[string]string{"a.c": "deadbeef"},
		OutputHashes: map[string]string{"a.o": "cafebabe"},
		Success:      true,
	})

	got, ok := c.Lookup(id)
	if !ok {
		t.Fatal("expected lookup to hit")
	}
	if got.TargetID != "//app:lib" || got.Outputs[0] != "a.o" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestLookup_MissOnUnknownOrFailedAction(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "action.bin"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	unknown := NewActionID("echo nope", nil, nil, "")
	if _, ok := c.Lookup(unknown); ok {
		t.Fatal("expected miss for unknown action")
	}

	failed := NewActionID("false", nil, nil, "")
	c.Record(Entry{ID: failed, TargetID: "//x:y", Success: false})
	if _, ok := c.Lookup(failed); ok {
		t.Fatal("expected miss for a recorded-but-failed action")
	}
}

func TestFlushAndReopen_PersistsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "action.bin")

	c, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := NewActionID("cargo build", map[string]string{"RUSTFLAGS": "-C opt-level=3"}, []string{"h1", "h2"}, "caps")
	c.Record(Entry{
		ID:           id,
		TargetID:     "//svc:bin",
		SubID:        "link",
		Type:         ActionLink,
		Inputs:       []string{"a.o", "b.o"},
		Outputs:      []string{"bin"},
		InputHashes:  map[string]string{"a.o": "h1", "b.o": "h2"},
		OutputHashes: map[string]string{"bin": "h3"},
		Success:      true,
	})
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Lookup(id)
	if !ok {
		t.Fatal("expected entry to survive flush+reopen")
	}
	if got.TargetID != "//svc:bin" || len(got.Inputs) != 2 {
		t.Fatalf("unexpected entry after reopen: %+v", got)
	}
}

func TestNewActionID_DeterministicAndSensitiveToInputs(t *testing.T) {
	a := NewActionID("gcc -c a.c", map[string]string{"CC": "gcc"}, []string{"h1"}, "caps")
	b := NewActionID("gcc -c a.c", map[string]string{"CC": "gcc"}, []string{"h1"}, "caps")
	if a != b {
		t.Fatal("expected identical inputs to produce identical action ids")
	}
	c := NewActionID("gcc -c a.c", map[string]string{"CC": "clang"}, []string{"h1"}, "caps")
	if a == c {
		t.Fatal("expected a changed env to change the action id")
	}
}
