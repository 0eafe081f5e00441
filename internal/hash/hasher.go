package hash

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

const (
	tierWholeFileMax = 4 * 1024
	tierChunkedMax    = 1 * 1024 * 1024
	tierSampledMax    = 100 * 1024 * 1024

	chunkBufSize = 4 * 1024

	sampledEdge     = 256 * 1024
	sampledInterior = 16 * 1024
	sampledCount    = 8

	mmapEdge     = 512 * 1024
	mmapInterior = 32 * 1024
	mmapCount    = 16
)

// TwoTierResult is the outcome of HashFileTwoTier.
type TwoTierResult struct {
	MetadataHex      string
	ContentHex       string
	ContentWasHashed bool
}

// HashFile hashes path using the size-tiered strategy described by the
// engine's content-addressing model. A missing or unreadable file returns the
// empty string as a sentinel so callers treat it as "changed" rather than
// propagating an I/O error through every caller of HashFile.
func HashFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	size := info.Size()
	switch {
	case size <= tierWholeFileMax:
		return hashWholeFile(path)
	case size <= tierChunkedMax:
		return hashChunked(path)
	case size <= tierSampledMax:
		return hashSampled(path, size)
	default:
		return hashMmapSampled(path, size)
	}
}

// HashFileComplete always hashes every byte of path regardless of size. It is
// the only variant permitted for integrity/tamper checks.
func HashFileComplete(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RawBytes returns the raw 32-byte BLAKE3 digest of b, for callers (such as
// the graph package's GraphHash) that need to feed the digest into a further
// length-prefixed hash rather than its hex rendering.
func RawBytes(b []byte) []byte {
	h := blake3.New()
	_, _ = h.Write(b)
	return h.Sum(nil)
}

// HashString returns the BLAKE3 hex digest of s.
func HashString(s string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// HashStrings hashes a sequence of strings, each length-prefixed so that
// ["ab","c"] and ["a","bc"] never collide.
func HashStrings(ss []string) string {
	h := blake3.New()
	for _, s := range ss {
		writeLenPrefixed(h, []byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashMetadata hashes path's identity as size+mtime without touching its
// content: BLAKE3(path || size || mtime_iso8601).
func HashMetadata(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return hashMetadataInfo(path, info.Size(), info.ModTime())
}

func hashMetadataInfo(path string, size int64, mtime time.Time) string {
	h := blake3.New()
	_, _ = h.Write([]byte(path))
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(size))
	_, _ = h.Write(sizeBuf[:])
	_, _ = h.Write([]byte(mtime.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// HashFileTwoTier computes the cheap metadata hash first; only when it
// differs from oldMetadataHex (or no prior value is known) does it fall
// through to a full content hash.
func HashFileTwoTier(path, oldMetadataHex string) TwoTierResult {
	info, err := os.Stat(path)
	if err != nil {
		return TwoTierResult{}
	}
	meta := hashMetadataInfo(path, info.Size(), info.ModTime())
	if oldMetadataHex != "" && meta == oldMetadataHex {
		return TwoTierResult{MetadataHex: meta, ContentWasHashed: false}
	}
	return TwoTierResult{MetadataHex: meta, ContentHex: HashFile(path), ContentWasHashed: true}
}

// MemoKey returns a cheap 64-bit key usable to deduplicate identical source
// files across many targets within the same build, sparing a full BLAKE3
// comparison on the hot path. It is never a substitute for the BLAKE3 digest
// itself, only an in-memory map key.
func MemoKey(path string, size int64, mtime time.Time) uint64 {
	d := xxhash.New()
	_, _ = d.Write([]byte(path))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(size))
	binary.BigEndian.PutUint64(buf[8:16], uint64(mtime.UnixNano()))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

func writeLenPrefixed(h io.Writer, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(b)
}

func hashWholeFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	h := blake3.New()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

func hashChunked(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := blake3.New()
	buf := make([]byte, chunkBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// sampleOffsets returns n equally spaced offsets within [lo, hi), each able to
// hold a sample of the given size without running past hi.
func sampleOffsets(lo, hi int64, n int, sampleSize int64) []int64 {
	span := hi - lo - sampleSize
	if span < 0 {
		span = 0
	}
	offsets := make([]int64, n)
	for i := 0; i < n; i++ {
		offsets[i] = lo + span*int64(i+1)/int64(n+1)
	}
	return offsets
}

func hashSampled(path string, size int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	return hashSampledWindows(f, size, sampledEdge, sampledInterior, sampledCount)
}

// hashSampledWindows hashes length, an edge-sized prefix and suffix, and n
// equally spaced interior windows of the given size, via ReadAt. Shared by
// the sampled tier and the mmap-tier fallback path.
func hashSampledWindows(f *os.File, size int64, edgeSize, interiorSize int64, n int) string {
	h := blake3.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(size))
	_, _ = h.Write(lenBuf[:])

	edge := min64(edgeSize, size)
	if err := hashRegion(h, f, 0, edge); err != nil {
		return ""
	}
	if err := hashRegion(h, f, size-edge, edge); err != nil {
		return ""
	}
	for _, off := range sampleOffsets(0, size, n, interiorSize) {
		m := min64(interiorSize, size-off)
		if err := hashRegion(h, f, off, m); err != nil {
			return ""
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashRegion(h io.Writer, f *os.File, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return err
	}
	_, err := h.Write(buf)
	return err
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
