//go:build linux || darwin

package hash

import (
	"encoding/binary"
	"encoding/hex"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// hashMmapSampled handles files above the sampled-tier threshold by
// memory-mapping the file and sampling prefix/suffix/interior windows
// directly out of the mapping instead of issuing separate ReadAt syscalls.
func hashMmapSampled(path string, size int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return hashSampledFallback(path, size)
	}
	defer unix.Munmap(data)

	h := blake3.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(size))
	_, _ = h.Write(lenBuf[:])

	edge := int64(mmapEdge)
	if edge > size {
		edge = size
	}
	_, _ = h.Write(data[:edge])
	_, _ = h.Write(data[size-edge:])

	for _, off := range sampleOffsets(0, size, mmapCount, mmapInterior) {
		n := min64(mmapInterior, size-off)
		_, _ = h.Write(data[off : off+n])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashSampledFallback(path string, size int64) string {
	// Mirrors hashSampled's windowing with the mmap tier's larger window
	// sizes, used when mmap itself is unavailable (e.g. filesystem does not
	// support it).
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	return hashSampledWindows(f, size, mmapEdge, mmapInterior, mmapCount)
}
