// Package blobstore provides the object-store abstraction behind blob-backed
// block devices.
//
// Store keeps whole objects addressed by name. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and ephemeral devices
//   - LocalStore: one file per object under a root directory
//   - s3.Store: Amazon S3
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
