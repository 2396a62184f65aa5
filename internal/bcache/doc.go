// Package bcache implements the sharded buffer cache.
//
// The cache holds a fixed number of buffers, each caching one block of one
// device. Buffers are partitioned into shards by block number; each shard
// keeps its buffers in a recency list (most recently released at the front)
// guarded by one mutex. A block is looked up only in its home shard
// (blockno mod shards). When the home shard has no unreferenced buffer, the
// allocator takes the global lock and steals the least recently released
// unreferenced buffer of another shard, moving it into the home shard.
//
// # Leases
//
// Read returns a *Buf lease: the buffer's sleeplock is held on behalf of the
// lease and the buffer's reference count includes it. The holder may read
// and modify Data, call Write to store it, and must call Release when done.
// Pin and Unpin adjust the reference count without touching the sleeplock,
// so a pinned buffer stays resident after its lease is released.
//
// # Locking
//
// Shard locks and the global lock are short-held and never held across I/O.
// The sleeplock is only taken with no other lock held. Only the steal holds
// two shard locks: visited shard, then home shard, always under the global
// lock. A lockorder.Tracer can be installed to observe every transition.
//
// A steal scans shards in ascending order and does not revisit them, so a
// buffer released behind the scan is missed and Read may report
// ErrNoBuffers while an unreferenced buffer exists.
package bcache
