// Package blockcache provides a fixed-capacity, concurrency-safe buffer cache
// for block devices.
//
// # Quick Start
//
//	c, _ := blockcache.New(blockcache.WithBuffers(64), blockcache.WithShards(13))
//	defer c.Close()
//
//	_ = c.Attach(1, device.NewMemory(4096, blockcache.DefaultBlockSize))
//
//	b, _ := c.Fetch(ctx, 1, 42)  // locked lease on block 42 of device 1
//	b.Data()[0] = 0xFF
//	_ = c.Commit(ctx, b)         // synchronous write-through
//	c.Release(b)
//
// # Guarantees
//
// At most one in-memory copy of any (device, block) pair exists at a time.
// Callers serialize on that copy through a per-buffer blocking lock held for
// the lifetime of the lease, including across device I/O. When every buffer
// of a shard is referenced, an unreferenced buffer of another shard is moved
// over; when none exists anywhere, Fetch fails with ErrNoBuffers (or panics
// with WithFatalExhaustion).
//
// # Sharding
//
// Blocks map to shard blockno mod N. Each shard keeps its own lock and
// recency list, so lookups and evictions on different shards do not contend.
// Only the cross-shard steal takes the global lock.
//
// # Pinning
//
// Pin keeps a buffer resident after Release without holding its lock, for
// callers (such as a log) that must not lose a block between transactions.
// Every Pin must be matched by an Unpin.
//
// # Devices
//
// Devices are attached under a numeric id. The device package provides RAM,
// file, object-store and Redis backed devices.
package blockcache
