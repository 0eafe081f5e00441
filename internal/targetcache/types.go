// Package targetcache implements the two-tier target cache (C3): "was this
// target built from these exact inputs?" Each entry records the hashes that
// produced a target's last successful build; a thread-safe signed binary
// file backs it across processes.
package targetcache

import "time"

// Entry is one target's last-known-good build record.
type Entry struct {
	TargetID             string
	BuildHash            string
	SourceContentHashes  map[string]string
	SourceMetadataHashes map[string]string
	DepHashes            map[string]string
	CreatedAt            time.Time
	LastAccessAt         time.Time
}

func (e *Entry) clone() *Entry {
	c := &Entry{
		TargetID:             e.TargetID,
		BuildHash:            e.BuildHash,
		SourceContentHashes:  make(map[string]string, len(e.SourceContentHashes)),
		SourceMetadataHashes: make(map[string]string, len(e.SourceMetadataHashes)),
		DepHashes:            make(map[string]string, len(e.DepHashes)),
		CreatedAt:            e.CreatedAt,
		LastAccessAt:         e.LastAccessAt,
	}
	for k, v := range e.SourceContentHashes {
		c.SourceContentHashes[k] = v
	}
	for k, v := range e.SourceMetadataHashes {
		c.SourceMetadataHashes[k] = v
	}
	for k, v := range e.DepHashes {
		c.DepHashes[k] = v
	}
	return c
}

// EvictionPolicy bounds what flush() keeps on disk.
type EvictionPolicy struct {
	MaxSizeBytes int64
	MaxEntries   int
	MaxAge       time.Duration
}

// DefaultEvictionPolicy matches the engine's mandated defaults: 1 GiB,
// 10,000 entries, 30 days.
func DefaultEvictionPolicy() EvictionPolicy {
	return EvictionPolicy{
		MaxSizeBytes: 1 << 30,
		MaxEntries:   10_000,
		MaxAge:       30 * 24 * time.Hour,
	}
}

// FromEnvironment overlays BUILDER_CACHE_MAX_SIZE / BUILDER_CACHE_MAX_ENTRIES
// / BUILDER_CACHE_MAX_AGE_DAYS style overrides (already parsed by
// internal/config) onto DefaultEvictionPolicy.
func FromEnvironment(maxSizeBytes int64, maxEntries int, maxAgeDays int) EvictionPolicy {
	p := DefaultEvictionPolicy()
	if maxSizeBytes > 0 {
		p.MaxSizeBytes = maxSizeBytes
	}
	if maxEntries > 0 {
		p.MaxEntries = maxEntries
	}
	if maxAgeDays > 0 {
		p.MaxAge = time.Duration(maxAgeDays) * 24 * time.Hour
	}
	return p
}
