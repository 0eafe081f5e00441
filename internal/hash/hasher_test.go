package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := strings.Repeat("x", size)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestHashFileMissingReturnsEmpty(t *testing.T) {
	if got := HashFile(filepath.Join(t.TempDir(), "missing")); got != "" {
		t.Fatalf("expected empty sentinel for missing file, got %q", got)
	}
}

func TestHashFileDeterministicAcrossTiers(t *testing.T) {
	dir := t.TempDir()
	sizes := []int{10, 8 * 1024, 2 * 1024 * 1024}
	for _, size := range sizes {
		path := writeTemp(t, dir, "f", size)
		first := HashFile(path)
		second := HashFile(path)
		if first == "" || first != second {
			t.Fatalf("size %d: expected stable non-empty hash, got %q vs %q", size, first, second)
		}
	}
}

func TestHashFileChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "f", 100)
	h1 := HashFile(path)
	if err := os.WriteFile(path, []byte(strings.Repeat("y", 100)), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	h2 := HashFile(path)
	if h1 == h2 {
		t.Fatalf("expected hash to change when content changes")
	}
}

func TestHashFileTwoTierSkipsContentWhenMetadataMatches(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "f", 50)
	first := HashFileTwoTier(path, "")
	if !first.ContentWasHashed {
		t.Fatalf("expected first call to hash content")
	}
	second := HashFileTwoTier(path, first.MetadataHex)
	if second.ContentWasHashed {
		t.Fatalf("expected second call to skip content hash when metadata unchanged")
	}
	if second.MetadataHex != first.MetadataHex {
		t.Fatalf("metadata hash should be stable across calls")
	}
}

func TestHashFileTwoTierRehashesOnMetadataChange(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "f", 50)
	first := HashFileTwoTier(path, "")
	time.Sleep(2 * time.Millisecond)
	if err := os.WriteFile(path, []byte(strings.Repeat("z", 51)), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	second := HashFileTwoTier(path, first.MetadataHex)
	if !second.ContentWasHashed {
		t.Fatalf("expected content to be rehashed after size change")
	}
}

func TestHashStringsDistinguishesConcatenation(t *testing.T) {
	a := HashStrings([]string{"ab", "c"})
	b := HashStrings([]string{"a", "bc"})
	if a == b {
		t.Fatalf("expected length-prefixed hashing to distinguish different splits")
	}
}

func TestHashFileCompleteMatchesWholeFileTierOnSmallFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "f", 100)
	if HashFileComplete(path) != HashFile(path) {
		t.Fatalf("expected HashFileComplete to agree with HashFile for small files")
	}
}
