package bcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/blockcache/internal/lockorder"
)

var (
	// ErrNoBuffers is returned when every buffer in the cache is referenced.
	ErrNoBuffers = errors.New("bcache: no buffers")

	// ErrInvalidConfig is returned by New for unusable sizes.
	ErrInvalidConfig = errors.New("bcache: invalid config")
)

// Driver performs synchronous block I/O into or out of p.
type Driver interface {
	ReadWrite(ctx context.Context, dev, blockno uint32, p []byte, write bool) error
}

// Outcome tells how the allocator produced a buffer.
type Outcome uint8

const (
	// Hit means the block was already resident.
	Hit Outcome = iota
	// Evicted means an unreferenced buffer of the home shard was recycled.
	Evicted
	// Stolen means a buffer was moved in from another shard.
	Stolen
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Evicted:
		return "evicted"
	case Stolen:
		return "stolen"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Config sizes the cache.
type Config struct {
	Buffers   int
	Shards    int
	BlockSize int

	// Arena optionally provides the payload memory; it must hold
	// Buffers*BlockSize bytes. If nil, it is allocated on the heap.
	Arena []byte

	Driver Driver
	Tracer lockorder.Tracer
}

// Stats are cumulative allocator counters.
type Stats struct {
	Hits      uint64
	Evictions uint64
	Steals    uint64
	Exhausted uint64
}

type shard struct {
	mu sync.Mutex
}

// Cache is a sharded buffer cache.
type Cache struct {
	bufs   []buffer
	shards []shard
	lists  lists
	global sync.Mutex

	blockSize int
	driver    Driver
	tracer    lockorder.Tracer

	ops    atomic.Uint64
	tokens atomic.Uint64

	hits      atomic.Uint64
	evictions atomic.Uint64
	steals    atomic.Uint64
	exhausted atomic.Uint64
}

// New creates a cache and distributes its buffers round-robin over the shards.
func New(cfg Config) (*Cache, error) {
	switch {
	case cfg.Buffers < 1:
		return nil, fmt.Errorf("%w: buffers must be positive, got %d", ErrInvalidConfig, cfg.Buffers)
	case cfg.Shards < 1:
		return nil, fmt.Errorf("%w: shards must be positive, got %d", ErrInvalidConfig, cfg.Shards)
	case cfg.Shards > cfg.Buffers:
		return nil, fmt.Errorf("%w: %d shards exceed %d buffers", ErrInvalidConfig, cfg.Shards, cfg.Buffers)
	case cfg.BlockSize < 1:
		return nil, fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidConfig, cfg.BlockSize)
	case cfg.Driver == nil:
		return nil, fmt.Errorf("%w: driver is required", ErrInvalidConfig)
	}

	arena := cfg.Arena
	if arena == nil {
		arena = make([]byte, cfg.Buffers*cfg.BlockSize)
	}
	if len(arena) < cfg.Buffers*cfg.BlockSize {
		return nil, fmt.Errorf("%w: arena holds %d bytes, need %d", ErrInvalidConfig, len(arena), cfg.Buffers*cfg.BlockSize)
	}

	c := &Cache{
		bufs:      make([]buffer, cfg.Buffers),
		shards:    make([]shard, cfg.Shards),
		lists:     newLists(cfg.Buffers, cfg.Shards),
		blockSize: cfg.BlockSize,
		driver:    cfg.Driver,
		tracer:    cfg.Tracer,
	}

	for i := range c.bufs {
		b := &c.bufs[i]
		b.lock.Init()
		off := i * cfg.BlockSize
		b.data = arena[off : off+cfg.BlockSize : off+cfg.BlockSize]
		b.shard = i % cfg.Shards
		c.lists.pushFront(b.shard, int32(i))
	}

	return c, nil
}

// BlockSize returns the payload size of every buffer.
func (c *Cache) BlockSize() int { return c.blockSize }

// Len returns the number of buffers.
func (c *Cache) Len() int { return len(c.bufs) }

// NumShards returns the number of shards.
func (c *Cache) NumShards() int { return len(c.shards) }

// Stats returns the allocator counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Evictions: c.evictions.Load(),
		Steals:    c.steals.Load(),
		Exhausted: c.exhausted.Load(),
	}
}

// Read returns a locked lease on the block, reading it from the device
// when the buffer does not hold valid contents. On a device error the lease
// is released before the error is returned.
func (c *Cache) Read(ctx context.Context, dev, blockno uint32) (*Buf, Outcome, error) {
	buf, outcome, err := c.get(dev, blockno)
	if err != nil {
		return nil, outcome, err
	}

	b := buf.b
	if !b.valid {
		if err := c.driver.ReadWrite(ctx, dev, blockno, b.data, false); err != nil {
			c.Release(buf)
			return nil, outcome, err
		}
		b.valid = true
	}

	return buf, outcome, nil
}

// Write stores the payload of a held lease on its device.
func (c *Cache) Write(ctx context.Context, buf *Buf) error {
	b := buf.b
	if !b.lock.Holding(buf.token) {
		panic("bcache: write of buffer not held")
	}
	return c.driver.ReadWrite(ctx, b.dev, b.blockno, b.data, true)
}

// Release ends a lease. When no references remain the buffer becomes the
// most recently used entry of its shard.
func (c *Cache) Release(buf *Buf) {
	b := buf.b
	if !b.lock.Holding(buf.token) {
		panic("bcache: release of buffer not held")
	}

	op := c.nextOp()
	c.traceReleasing(op, lockorder.Buffer(int(buf.idx)))
	b.lock.Release(buf.token)

	s := b.shard
	c.lockShard(op, s)
	b.refcnt--
	if b.refcnt == 0 {
		c.lists.moveToFront(s, buf.idx)
	}
	c.unlockShard(op, s)
}

// Pin adds a reference that keeps the buffer resident. The caller must
// already hold a reference (a lease or an earlier pin).
func (c *Cache) Pin(buf *Buf) {
	b := buf.b
	op := c.nextOp()
	s := b.shard
	c.lockShard(op, s)
	b.refcnt++
	c.unlockShard(op, s)
}

// Unpin drops a reference added by Pin.
func (c *Cache) Unpin(buf *Buf) {
	b := buf.b
	op := c.nextOp()
	s := b.shard
	c.lockShard(op, s)
	if b.refcnt <= 0 {
		c.unlockShard(op, s)
		panic("bcache: unpin of unreferenced buffer")
	}
	b.refcnt--
	c.unlockShard(op, s)
}

// Invalidate forgets every unreferenced buffer of dev and returns the number
// of buffers of dev that are still referenced.
func (c *Cache) Invalidate(dev uint32) int {
	op := c.nextOp()
	busy := 0
	for s := range c.shards {
		c.lockShard(op, s)
		for i := c.lists.first(s); i >= 0; i = c.lists.next(s, i) {
			b := &c.bufs[i]
			if !b.assigned || b.dev != dev {
				continue
			}
			if b.refcnt > 0 {
				busy++
				continue
			}
			b.assigned = false
			b.valid = false
		}
		c.unlockShard(op, s)
	}
	return busy
}

// get looks up (dev, blockno) and returns a locked lease on its buffer,
// recycling an unreferenced buffer on a miss.
func (c *Cache) get(dev, blockno uint32) (*Buf, Outcome, error) {
	op := c.nextOp()
	home := int(blockno % uint32(len(c.shards)))

	c.lockShard(op, home)
	if i := c.lookup(home, dev, blockno); i >= 0 {
		c.bufs[i].refcnt++
		c.unlockShard(op, home)
		c.hits.Add(1)
		return c.lease(op, i), Hit, nil
	}
	if i := c.victim(home); i >= 0 {
		c.assign(i, dev, blockno)
		c.unlockShard(op, home)
		c.evictions.Add(1)
		return c.lease(op, i), Evicted, nil
	}
	c.unlockShard(op, home)

	c.lockGlobal(op)
	for s := range c.shards {
		if s == home {
			continue
		}
		c.lockShard(op, s)
		i := c.victim(s)
		if i < 0 {
			c.unlockShard(op, s)
			continue
		}

		c.lockShard(op, home)
		// Another allocator may have installed the block while the home
		// shard was unlocked.
		if j := c.lookup(home, dev, blockno); j >= 0 {
			c.bufs[j].refcnt++
			c.unlockShard(op, home)
			c.unlockShard(op, s)
			c.unlockGlobal(op)
			c.hits.Add(1)
			return c.lease(op, j), Hit, nil
		}

		c.lists.remove(i)
		c.assign(i, dev, blockno)
		c.bufs[i].shard = home
		c.lists.pushFront(home, i)
		c.unlockShard(op, home)
		c.unlockShard(op, s)
		c.unlockGlobal(op)
		c.steals.Add(1)
		return c.lease(op, i), Stolen, nil
	}
	c.unlockGlobal(op)

	c.exhausted.Add(1)
	return nil, Hit, ErrNoBuffers
}

// lookup scans shard s for the block. The shard lock must be held.
func (c *Cache) lookup(s int, dev, blockno uint32) int32 {
	for i := c.lists.first(s); i >= 0; i = c.lists.next(s, i) {
		b := &c.bufs[i]
		if b.assigned && b.dev == dev && b.blockno == blockno {
			return i
		}
	}
	return -1
}

// victim returns the least recently used unreferenced buffer of shard s,
// or -1. The shard lock must be held.
func (c *Cache) victim(s int) int32 {
	for i := c.lists.last(s); i >= 0; i = c.lists.prev(s, i) {
		if c.bufs[i].refcnt == 0 {
			return i
		}
	}
	return -1
}

// assign gives buffer i a new identity with one reference.
func (c *Cache) assign(i int32, dev, blockno uint32) {
	b := &c.bufs[i]
	b.dev = dev
	b.blockno = blockno
	b.assigned = true
	b.valid = false
	b.refcnt = 1
}

// lease blocks on the buffer's sleeplock and returns the lease.
// No spin lock may be held.
func (c *Cache) lease(op uint64, i int32) *Buf {
	buf := &Buf{
		b:     &c.bufs[i],
		idx:   i,
		token: c.tokens.Add(1),
	}
	buf.b.lock.Acquire(buf.token)
	c.traceAcquired(op, lockorder.Buffer(int(i)))
	return buf
}

func (c *Cache) nextOp() uint64 {
	if c.tracer == nil {
		return 0
	}
	return c.ops.Add(1)
}

func (c *Cache) lockShard(op uint64, s int) {
	c.shards[s].mu.Lock()
	c.traceAcquired(op, lockorder.Shard(s))
}

func (c *Cache) unlockShard(op uint64, s int) {
	c.traceReleasing(op, lockorder.Shard(s))
	c.shards[s].mu.Unlock()
}

func (c *Cache) lockGlobal(op uint64) {
	c.global.Lock()
	c.traceAcquired(op, lockorder.Global())
}

func (c *Cache) unlockGlobal(op uint64) {
	c.traceReleasing(op, lockorder.Global())
	c.global.Unlock()
}

func (c *Cache) traceAcquired(op uint64, l lockorder.Lock) {
	if c.tracer != nil {
		c.tracer.Acquired(op, l)
	}
}

func (c *Cache) traceReleasing(op uint64, l lockorder.Lock) {
	if c.tracer != nil {
		c.tracer.Releasing(op, l)
	}
}
