// Package hash implements the content-addressing primitives the rest of the
// engine is built on: size-tiered BLAKE3 file hashing, metadata hashing, and
// the two-tier metadata-then-content strategy that lets the caches skip a
// full content hash when a file's size and modification time have not moved.
package hash
