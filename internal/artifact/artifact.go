// Package artifact implements the content-addressed artifact store (C9): a
// local, directory-sharded blob cache with best-effort remote fetch/upload
// through a pluggable RemoteBackend (HTTP, S3, or Redis), and size-bounded
// eviction by oldest access time.
package artifact

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kraklabs/builder/internal/atomicfile"
	"github.com/kraklabs/builder/internal/errs"
)

// ID identifies an artifact by the BLAKE3 hex digest of its content.
type ID struct {
	Hash string
}

// LocalPath returns id's path under root, sharded two levels deep
// (<root>/<hex[0:2]>/<hex[2:4]>/<full hex>) to keep any one directory small.
func (id ID) LocalPath(root string) string {
	h := id.Hash
	if len(h) < 4 {
		return filepath.Join(root, h)
	}
	return filepath.Join(root, h[0:2], h[2:4], h)
}

// HashBytes computes the artifact ID for data.
func HashBytes(data []byte) ID {
	h := blake3.New()
	_, _ = h.Write(data)
	return ID{Hash: hex.EncodeToString(h.Sum(nil))}
}

// RemoteBackend is the artifact store's pluggable remote tier. Every
// implementation shares the same content-hash-verify-on-upload and
// local-first-fetch semantics; only transport differs.
type RemoteBackend interface {
	// Fetch retrieves id's bytes, or an *errs.ArtifactNotFoundError /
	// *errs.NetworkError.
	Fetch(ctx context.Context, id ID) ([]byte, error)
	// Upload stores data under id. Callers have already verified the hash.
	Upload(ctx context.Context, id ID, data []byte) error
}

// Store is the local content-addressed cache, optionally backed by a
// RemoteBackend for misses and best-effort off-loading of new uploads.
type Store struct {
	root     string
	maxBytes int64
	remote   RemoteBackend
}

// Config controls a Store's local footprint and remote tier.
type Config struct {
	Root     string
	MaxBytes int64
	Remote   RemoteBackend // nil disables the remote tier entirely
}

// Open prepares the local root directory and returns a ready Store.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}
	return &Store{root: cfg.Root, maxBytes: cfg.MaxBytes, remote: cfg.Remote}, nil
}

// Fetch returns id's bytes, trying the local cache first, then the remote
// backend if configured. A remote hit is written back to the local cache on
// a best-effort basis: a write failure does not fail the fetch.
func (s *Store) Fetch(ctx context.Context, id ID) ([]byte, error) {
	path := id.LocalPath(s.root)
	if data, err := os.ReadFile(path); err == nil {
		touch(path)
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, &errs.TransientIOError{Cause: err}
	}

	if s.remote == nil {
		return nil, &errs.ArtifactNotFoundError{Hash: id.Hash}
	}
	data, err := s.remote.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.writeLocal(id, data)
	return data, nil
}

// Upload verifies data hashes to id, stores it locally, then asynchronously
// pushes it to the remote backend if one is configured. A hash mismatch is
// always a hard, synchronous error; the remote push failing is not (it is
// dropped — the artifact remains available from the local cache, and a
// later Fetch from another machine simply misses the remote tier).
func (s *Store) Upload(ctx context.Context, id ID, data []byte) error {
	actual := HashBytes(data)
	if actual.Hash != id.Hash {
		return &errs.ArtifactHashMismatchError{Expected: id.Hash, Actual: actual.Hash}
	}
	if err := s.writeLocal(id, data); err != nil {
		return err
	}
	if s.remote != nil {
		go func() {
			_ = s.remote.Upload(context.Background(), id, data)
		}()
	}
	return nil
}

func (s *Store) writeLocal(id ID, data []byte) error {
	path := id.LocalPath(s.root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errs.TransientIOError{Cause: err}
	}
	if err := atomicfile.Write(path, data); err != nil {
		return &errs.TransientIOError{Cause: err}
	}
	return nil
}

// touch is a best-effort access-time bump so Evict's oldest-mtime-first
// policy reflects real usage. A failure here is never fatal.
func touch(path string) {
	now := time.Now()
	_ = os.Chtimes(path, now, now)
}

// Evict removes the oldest-mtime local artifacts until the local cache's
// total size is at most 80% of maxBytes (a no-op if maxBytes is unset).
func (s *Store) Evict() error {
	if s.maxBytes <= 0 {
		return nil
	}
	type entry struct {
		path    string
		size    int64
		modTime int64
	}
	var entries []entry
	var total int64
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		entries = append(entries, entry{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return &errs.TransientIOError{Cause: err}
	}
	if total <= s.maxBytes {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime < entries[j].modTime })
	target := s.maxBytes * 80 / 100
	for _, e := range entries {
		if total <= target {
			break
		}
		if err := os.Remove(e.path); err != nil {
			continue
		}
		total -= e.size
	}
	return nil
}
