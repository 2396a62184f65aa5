// Package mmap provides anonymous memory regions for off-heap block storage.
//
// # Usage
//
//	r, err := mmap.MapAnon(buffers * blockSize)
//	if err != nil { ... }
//	defer r.Close()
//
//	arena := r.Bytes()
//	r.Advise(mmap.AccessRandom)
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE and madvise(2)
//   - Elsewhere: a heap allocation, and Advise is a no-op
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must not touch
// the slice returned by Bytes after Close returns.
package mmap
