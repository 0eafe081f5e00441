// Package actioncache implements the action cache (C4): "did this command
// produce this output?" It is keyed by a 32-byte content-addressed ActionId
// rather than a target ID, and records one entry per build sub-step (e.g.
// one compiled translation unit) instead of one per target.
package actioncache

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kraklabs/builder/internal/atomicfile"
	"github.com/kraklabs/builder/internal/hash"
)

// ActionType distinguishes the kind of sub-step an action represents.
type ActionType byte

const (
	ActionCompile ActionType = iota
	ActionLink
	ActionTest
	ActionCustom
)

// ActionID is the 32-byte BLAKE3 digest of (command, env, input-hashes,
// capabilities). Equality is byte-wise.
type ActionID [32]byte

// Hex renders the ID as a lowercase hex string, e.g. for cache file naming.
func (id ActionID) Hex() string { return hex.EncodeToString(id[:]) }

// ShortKey returns the first 8 bytes as a uint64, the engine's mandated
// in-memory hash for map bucketing.
func (id ActionID) ShortKey() uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

// NewActionID computes the ActionId for a command invocation: BLAKE3 of the
// command string, its environment (sorted k=v pairs), the hashes of its
// declared inputs (in input order), and a stable rendering of capabilities.
func NewActionID(command string, env map[string]string, inputHashes []string, capabilities string) ActionID {
	parts := []string{command}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+env[k])
	}
	parts = append(parts, inputHashes...)
	parts = append(parts, capabilities)

	h := blake3.New()
	for _, p := range parts {
		writeLenPrefixed(h, []byte(p))
	}
	var id ActionID
	copy(id[:], h.Sum(nil))
	return id
}

func writeLenPrefixed(h *blake3.Hasher, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(b)
}

// Entry is one action's recorded result.
type Entry struct {
	ID           ActionID
	TargetID     string
	SubID        string
	Type         ActionType
	HashOfInputs string
	Inputs       []string
	Outputs      []string
	InputHashes  map[string]string
	OutputHashes map[string]string
	Metadata     map[string]string
	ExecutionHash string
	Timestamp    time.Time
	LastAccess   time.Time
	Success      bool
}

// Cache is the thread-safe action cache. Like the target cache it defers
// writes to Flush and is safe for concurrent use by many handler sub-steps.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[ActionID]*Entry
	dirty   bool
}

// Open loads path if present. A missing file starts empty; a file that fails
// to parse also starts empty and is reported through onCorrupt (the engine's
// reset-with-log discipline). Any other read error is returned.
func Open(path string, onCorrupt func(reason string)) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[ActionID]*Entry)}
	blob, err := readFileIfExists(path)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return c, nil
	}
	entries, err := decode(blob)
	if err != nil {
		if onCorrupt != nil {
			onCorrupt("action cache unreadable: " + err.Error())
		}
		return c, nil
	}
	c.entries = entries
	return c, nil
}

// Lookup returns a copy of the entry for id, if present and successful.
func (c *Cache) Lookup(id ActionID) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || !e.Success {
		return nil, false
	}
	e.LastAccess = time.Now()
	cp := *e
	return &cp, true
}

// Record stores the result of running an action.
func (c *Cache) Record(e Entry) {
	e.LastAccess = time.Now()
	if e.Timestamp.IsZero() {
		e.Timestamp = e.LastAccess
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := e
	c.entries[e.ID] = &cp
	c.dirty = true
}

// Flush serializes the entry map to path if dirty.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	blob := encode(c.entries)
	if err := atomicfile.Write(c.path, blob); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Close flushes and releases the cache. Idempotent.
func (c *Cache) Close() error { return c.Flush() }

// HashInputs is a convenience used by callers building an ActionID: it
// BLAKE3-hashes the ordered list of declared input content hashes into a
// single "hash of inputs" string, matching the format stored in Entry.
func HashInputs(inputHashes []string) string {
	return hash.HashStrings(inputHashes)
}
