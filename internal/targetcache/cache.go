package targetcache

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/builder/internal/atomicfile"
	"github.com/kraklabs/builder/internal/hash"
)

// Cache is the thread-safe two-tier target cache described by the engine's
// contract. All public methods acquire the internal mutex; writes are
// deferred until Flush.
type Cache struct {
	mu            sync.Mutex
	workspaceRoot string
	path          string
	policy        EvictionPolicy
	entries       map[string]*Entry
	hot           *lru.Cache[string, struct{}]
	dirty         bool
	memo          map[string]string // BLAKE3 digest of the source path (as string) -> content hash, shared across sources in one build
}

// Open loads the cache at path (workspace/.builder-cache/cache.bin) if it
// exists, migrating a legacy cache.json on first load, or starts empty. A
// signature verification failure or staleness beyond 30 days also starts
// empty; both are reported via onCorrupt rather than returned as an error,
// matching the "reset-with-log" mandate.
func Open(workspaceRoot, path string, policy EvictionPolicy, onCorrupt func(reason string)) (*Cache, error) {
	hot, err := lru.New[string, struct{}](policy.MaxEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		workspaceRoot: workspaceRoot,
		path:          path,
		policy:        policy,
		entries:       make(map[string]*Entry),
		hot:           hot,
		memo:          make(map[string]string),
	}

	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, c.tryMigrateLegacy(onCorrupt)
	}
	if err != nil {
		return nil, err
	}

	entries, createdAt, verificationFailed, err := decodeEnvelope(workspaceRoot, blob)
	if err != nil {
		if onCorrupt != nil {
			onCorrupt("cache file unreadable: " + err.Error())
		}
		return c, nil
	}
	if verificationFailed {
		if onCorrupt != nil {
			onCorrupt("signature verification failed")
		}
		return c, nil
	}
	if time.Since(createdAt) > policy.MaxAge {
		if onCorrupt != nil {
			onCorrupt("cache file older than max age")
		}
		return c, nil
	}
	c.entries = entries
	for id := range entries {
		c.hot.Add(id, struct{}{})
	}
	return c, nil
}

func (c *Cache) tryMigrateLegacy(onCorrupt func(reason string)) error {
	legacyPath := legacyJSONPath(c.path)
	blob, err := os.ReadFile(legacyPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return nil
	}
	entries, err := decodeLegacyJSON(blob)
	if err != nil {
		if onCorrupt != nil {
			onCorrupt("legacy cache.json unreadable: " + err.Error())
		}
		return nil
	}
	c.entries = entries
	for id := range entries {
		c.hot.Add(id, struct{}{})
	}
	c.dirty = true
	return nil
}

func legacyJSONPath(binPath string) string {
	dir := filepath.Dir(binPath)
	return filepath.Join(dir, "cache.json")
}

// IsCached reports whether targetID can be served from cache given its
// current sources and dependency IDs, per the engine's check-then-hash
// TOCTOU-tolerant policy (acceptable here; worst case is an unnecessary
// rebuild, never a correctness issue).
func (c *Cache) IsCached(targetID string, sources []string, deps []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[targetID]
	if !ok {
		return false
	}
	e.LastAccessAt = time.Now()
	c.hot.Add(targetID, struct{}{})

	for _, src := range sources {
		if _, err := os.Stat(src); err != nil {
			return false
		}
		two := hash.HashFileTwoTier(src, e.SourceMetadataHashes[src])
		if two.MetadataHex == "" {
			return false
		}
		if two.MetadataHex == e.SourceMetadataHashes[src] {
			continue
		}
		content := two.ContentHex
		if content == "" {
			content = hash.HashFile(src)
		}
		if content != e.SourceContentHashes[src] {
			return false
		}
	}

	for _, dep := range deps {
		depEntry, ok := c.entries[dep]
		if !ok {
			return false
		}
		if depEntry.BuildHash != e.DepHashes[dep] {
			return false
		}
	}
	return true
}

// Update records a fresh build result for targetID. Source hashing runs in
// parallel (one errgroup goroutine per source, with no concurrency limit)
// when there are more than four sources,
// sharing the memoization map across sources hashed within the same build.
func (c *Cache) Update(targetID string, sources []string, deps []string, outputHash string) error {
	contentHashes := make(map[string]string, len(sources))
	metaHashes := make(map[string]string, len(sources))

	if len(sources) > 4 {
		var mu sync.Mutex
		var g errgroup.Group
		for _, src := range sources {
			src := src
			g.Go(func() error {
				meta := hash.HashMetadata(src)
				content := c.memoizedContentHash(src)
				mu.Lock()
				metaHashes[src] = meta
				contentHashes[src] = content
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, src := range sources {
			metaHashes[src] = hash.HashMetadata(src)
			contentHashes[src] = c.memoizedContentHash(src)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	depHashes := make(map[string]string, len(deps))
	for _, dep := range deps {
		if depEntry, ok := c.entries[dep]; ok {
			depHashes[dep] = depEntry.BuildHash
		}
	}

	now := time.Now()
	c.entries[targetID] = &Entry{
		TargetID:             targetID,
		BuildHash:            outputHash,
		SourceContentHashes:  contentHashes,
		SourceMetadataHashes: metaHashes,
		DepHashes:            depHashes,
		CreatedAt:            now,
		LastAccessAt:         now,
	}
	c.hot.Add(targetID, struct{}{})
	c.dirty = true
	return nil
}

func (c *Cache) memoizedContentHash(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	key := string(hash.RawBytes([]byte(path)))
	c.mu.Lock()
	if v, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	content := hash.HashFile(path)

	c.mu.Lock()
	c.memo[key] = content
	c.mu.Unlock()
	return content
}

// Lookup returns a copy of targetID's entry, if present.
func (c *Cache) Lookup(targetID string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[targetID]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// Flush evicts per policy (if runEviction) and, if the cache is dirty,
// atomically replaces the on-disk file with a freshly signed blob.
func (c *Cache) Flush(runEviction bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if runEviction {
		c.evictLocked()
	}
	if !c.dirty {
		return nil
	}

	blob, err := encodeEnvelope(c.workspaceRoot, c.entries)
	if err != nil {
		return err
	}
	if err := atomicfile.Write(c.path, blob); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

func (c *Cache) evictLocked() {
	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.policy.MaxAge {
			delete(c.entries, id)
			c.hot.Remove(id)
			c.dirty = true
		}
	}

	for len(c.entries) > c.policy.MaxEntries {
		oldest := c.oldestByLastAccess()
		if oldest == "" {
			break
		}
		delete(c.entries, oldest)
		c.hot.Remove(oldest)
		c.dirty = true
	}

	for c.totalSizeLocked() > c.policy.MaxSizeBytes {
		oldest := c.oldestByLastAccess()
		if oldest == "" {
			break
		}
		delete(c.entries, oldest)
		c.hot.Remove(oldest)
		c.dirty = true
	}
}

func (c *Cache) oldestByLastAccess() string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool {
		ei, ej := c.entries[ids[i]], c.entries[ids[j]]
		if !ei.LastAccessAt.Equal(ej.LastAccessAt) {
			return ei.LastAccessAt.Before(ej.LastAccessAt)
		}
		return ids[i] < ids[j]
	})
	return ids[0]
}

func (c *Cache) totalSizeLocked() int64 {
	return int64(len(encodeEntries(c.entries)))
}

// Close flushes and releases the cache. It is idempotent.
func (c *Cache) Close() error {
	return c.Flush(true)
}
