// Package device provides the block devices behind a cache and the device
// table that routes cache I/O to them.
//
// A Device transfers whole blocks synchronously. The cache calls a Table
// through its ReadWrite method, which looks up the device by id, applies the
// shared IO rate limit and performs the transfer.
//
// Implementations:
//
//   - Memory: RAM disk with a fixed number of blocks
//   - File: a regular file or block special file, using positional I/O
//   - Blob: one object per block in a blobstore.Store, framed and checksummed
//   - Redis: one key per block in Redis
package device
