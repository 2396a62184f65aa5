package blockcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/blockcache/device"
	"github.com/hupe1980/blockcache/internal/bcache"
	"github.com/hupe1980/blockcache/internal/mmap"
	"github.com/hupe1980/blockcache/resource"
)

// Buf is a lease on a cached block, returned locked by Fetch.
//
// Data may only be touched between Fetch and Release. After Release the
// lease stays usable for Pin and Unpin only.
type Buf = bcache.Buf

// Stats are cumulative cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Steals    uint64
	Exhausted uint64
	Reads     uint64
	Writes    uint64
}

// Cache is a sharded buffer cache in front of a table of block devices.
type Cache struct {
	core    *bcache.Cache
	devices *device.Table
	cfg     Config
	logger  *Logger
	metrics MetricsCollector

	rc       *resource.Controller
	reserved int64
	region   *mmap.Region

	reads  atomic.Uint64
	writes atomic.Uint64

	// mu orders closed against inflight.Add.
	mu       sync.RWMutex
	closed   atomic.Bool
	inflight sync.WaitGroup
}

// New creates a cache. Without options it holds DefaultBuffers buffers of
// DefaultBlockSize bytes in DefaultShards shards.
func New(optFns ...Option) (*Cache, error) {
	o := options{cfg: DefaultConfig()}
	for _, fn := range optFns {
		fn(&o)
	}

	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = NoopLogger()
		if cfg.LogLevel != "" {
			level, _ := cfg.logLevel()
			logger = NewTextLogger(level)
		}
	}

	metrics := o.metricsCollector
	if metrics == nil {
		metrics = NoopMetricsCollector{}
	}

	rc := o.rc
	if rc == nil && (cfg.MemoryLimitBytes > 0 || cfg.IOLimitBytesPerSec > 0) {
		rc = resource.NewController(resource.Config{
			MemoryLimitBytes:   cfg.MemoryLimitBytes,
			IOLimitBytesPerSec: cfg.IOLimitBytesPerSec,
		})
	}

	c := &Cache{
		devices: device.NewTable(rc),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		rc:      rc,
	}

	size := int64(cfg.Buffers) * int64(cfg.BlockSize)
	if !rc.TryAcquireMemory(size) {
		return nil, fmt.Errorf("%w: %d buffers of %d bytes", resource.ErrMemoryLimitExceeded, cfg.Buffers, cfg.BlockSize)
	}
	c.reserved = size

	var arena []byte
	if cfg.OffHeap {
		region, err := mmap.MapAnon(int(size))
		if err != nil {
			c.release()
			return nil, fmt.Errorf("blockcache: map arena: %w", err)
		}
		if err := region.Advise(mmap.AccessRandom); err != nil {
			logger.Debug("madvise failed", "error", err)
		}
		c.region = region
		arena = region.Bytes()
	}

	core, err := bcache.New(bcache.Config{
		Buffers:   cfg.Buffers,
		Shards:    cfg.Shards,
		BlockSize: cfg.BlockSize,
		Arena:     arena,
		Driver:    driver{c},
	})
	if err != nil {
		c.release()
		return nil, translateError(err)
	}
	c.core = core

	logger.Info("cache created",
		"buffers", cfg.Buffers,
		"shards", cfg.Shards,
		"block_size", cfg.BlockSize,
		"off_heap", cfg.OffHeap,
	)
	return c, nil
}

// driver counts transfers on their way to the device table.
type driver struct{ c *Cache }

func (d driver) ReadWrite(ctx context.Context, dev, blockno uint32, p []byte, write bool) error {
	if write {
		d.c.writes.Add(1)
	} else {
		d.c.reads.Add(1)
	}
	return d.c.devices.ReadWrite(ctx, dev, blockno, p, write)
}

// Config returns the effective configuration.
func (c *Cache) Config() Config { return c.cfg }

// BlockSize returns the payload size of every buffer.
func (c *Cache) BlockSize() int { return c.cfg.BlockSize }

// Attach makes d available as device id dev. Devices that report a block
// size must match the cache's.
func (c *Cache) Attach(dev uint32, d device.Device) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if s, ok := d.(device.Sizer); ok && s.BlockSize() != c.cfg.BlockSize {
		return fmt.Errorf("%w: device %d has %d-byte blocks, cache has %d", device.ErrBlockSize, dev, s.BlockSize(), c.cfg.BlockSize)
	}
	if err := c.devices.Attach(dev, d); err != nil {
		return err
	}
	c.logger.WithDevice(dev).Info("device attached")
	return nil
}

// Detach forgets every cached block of dev, removes it from the device
// table and closes it. It fails with ErrDeviceBusy, leaving the device
// attached, while any of its buffers is leased or pinned.
func (c *Cache) Detach(dev uint32) error {
	ctx := context.Background()

	d, err := c.devices.Detach(dev)
	if err != nil {
		c.logger.LogDetach(ctx, dev, 0, err)
		return err
	}

	if busy := c.core.Invalidate(dev); busy > 0 {
		err := fmt.Errorf("%w: %d buffers of device %d in use", ErrDeviceBusy, busy, dev)
		if aerr := c.devices.Attach(dev, d); aerr != nil {
			err = errors.Join(err, aerr)
		}
		c.logger.LogDetach(ctx, dev, busy, err)
		return err
	}

	if err := d.Close(); err != nil {
		err = fmt.Errorf("blockcache: close device %d: %w", dev, err)
		c.logger.LogDetach(ctx, dev, 0, err)
		return err
	}
	c.logger.LogDetach(ctx, dev, 0, nil)
	return nil
}

// Fetch returns a locked lease on block blockno of device dev, reading it
// from the device unless a valid copy is cached. Device failures are
// returned as *BlockIOError and leave no lease behind.
func (c *Cache) Fetch(ctx context.Context, dev, blockno uint32) (*Buf, error) {
	if !c.enter() {
		return nil, ErrClosed
	}
	defer c.inflight.Done()

	start := time.Now()
	buf, outcome, err := c.core.Read(ctx, dev, blockno)

	if errors.Is(err, bcache.ErrNoBuffers) {
		c.metrics.RecordExhausted()
		c.logger.LogExhausted(ctx, dev, blockno)
		if c.cfg.FatalExhaustion {
			panic(fmt.Sprintf("blockcache: no buffers for block %d on device %d", blockno, dev))
		}
		err = translateError(err)
		c.metrics.RecordFetch(false, time.Since(start), err)
		return nil, err
	}

	switch outcome {
	case bcache.Evicted:
		c.metrics.RecordEviction(false)
	case bcache.Stolen:
		c.metrics.RecordEviction(true)
	}

	if err != nil {
		err = &BlockIOError{Dev: dev, BlockNo: blockno, cause: err}
	}
	c.metrics.RecordFetch(outcome == bcache.Hit, time.Since(start), err)
	c.logger.LogFetch(ctx, dev, blockno, outcome.String(), err)
	return buf, err
}

// Commit writes the lease's payload to its device synchronously. It panics
// if b is not held.
func (c *Cache) Commit(ctx context.Context, b *Buf) error {
	if !c.enter() {
		return ErrClosed
	}
	defer c.inflight.Done()

	start := time.Now()
	err := c.core.Write(ctx, b)
	if err != nil {
		err = &BlockIOError{Dev: b.Dev(), BlockNo: b.BlockNo(), Write: true, cause: err}
	}
	c.metrics.RecordCommit(time.Since(start), err)
	c.logger.LogCommit(ctx, b.Dev(), b.BlockNo(), err)
	return err
}

// Release ends the lease. It panics if b is not held.
func (c *Cache) Release(b *Buf) {
	c.core.Release(b)
}

// Pin keeps b's buffer resident until the matching Unpin. The caller must
// hold a reference, usually the lease itself.
func (c *Cache) Pin(b *Buf) {
	c.core.Pin(b)
}

// Unpin drops a reference taken by Pin. It panics if none remains.
func (c *Cache) Unpin(b *Buf) {
	c.core.Unpin(b)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	s := c.core.Stats()
	return Stats{
		Hits:      s.Hits,
		Misses:    s.Evictions + s.Steals,
		Evictions: s.Evictions,
		Steals:    s.Steals,
		Exhausted: s.Exhausted,
		Reads:     c.reads.Load(),
		Writes:    c.writes.Load(),
	}
}

// Close waits for in-flight Fetch and Commit calls, then closes every
// attached device and frees the buffer memory. Fetch and Commit return
// ErrClosed once Close has started. Leases may still be released but their
// data must not be touched afterwards. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed.Swap(true) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.inflight.Wait()

	err := c.devices.Close()
	c.release()
	c.logger.Info("cache closed")
	return err
}

// enter registers an in-flight operation unless the cache is closed. The
// caller must call c.inflight.Done when enter reports true.
func (c *Cache) enter() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed.Load() {
		return false
	}
	c.inflight.Add(1)
	return true
}

func (c *Cache) release() {
	if c.region != nil {
		_ = c.region.Close()
		c.region = nil
	}
	c.rc.ReleaseMemory(c.reserved)
	c.reserved = 0
}
