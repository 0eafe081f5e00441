//go:build !linux && !darwin

package hash

import "os"

// hashMmapSampled falls back to windowed ReadAt calls on platforms where this
// package does not implement an mmap path. The sampling pattern (edge and
// interior window sizes) is identical; only the I/O mechanism differs.
func hashMmapSampled(path string, size int64) string {
	return hashSampledFallback(path, size)
}

func hashSampledFallback(path string, size int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	return hashSampledWindows(f, size, mmapEdge, mmapInterior, mmapCount)
}
