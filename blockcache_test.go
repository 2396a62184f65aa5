package blockcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/blockcache/blobstore"
	"github.com/hupe1980/blockcache/device"
	"github.com/hupe1980/blockcache/internal/compress"
	"github.com/hupe1980/blockcache/resource"
)

type faultyDevice struct {
	*device.Memory
	readErr  error
	writeErr error
	closed   bool
}

func (f *faultyDevice) ReadBlock(ctx context.Context, blockno uint32, p []byte) error {
	if f.readErr != nil {
		return f.readErr
	}
	return f.Memory.ReadBlock(ctx, blockno, p)
}

func (f *faultyDevice) WriteBlock(ctx context.Context, blockno uint32, p []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.Memory.WriteBlock(ctx, blockno, p)
}

func (f *faultyDevice) Close() error {
	f.closed = true
	return nil
}

// gatedDevice blocks reads until proceed is closed.
type gatedDevice struct {
	*device.Memory
	entered chan struct{}
	proceed chan struct{}
	closed  atomic.Bool
}

func newGatedDevice(blocks uint32, blockSize int) *gatedDevice {
	return &gatedDevice{
		Memory:  device.NewMemory(blocks, blockSize),
		entered: make(chan struct{}, 1),
		proceed: make(chan struct{}),
	}
}

func (g *gatedDevice) ReadBlock(ctx context.Context, blockno uint32, p []byte) error {
	g.entered <- struct{}{}
	<-g.proceed
	return g.Memory.ReadBlock(ctx, blockno, p)
}

func (g *gatedDevice) Close() error {
	g.closed.Store(true)
	return nil
}

func newCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func attachMemory(t *testing.T, c *Cache, dev uint32, blocks uint32) *device.Memory {
	t.Helper()
	m := device.NewMemory(blocks, c.BlockSize())
	require.NoError(t, c.Attach(dev, m))
	return m
}

func TestNew_Defaults(t *testing.T) {
	c := newCache(t)

	cfg := c.Config()
	assert.Equal(t, DefaultBuffers, cfg.Buffers)
	assert.Equal(t, DefaultShards, cfg.Shards)
	assert.Equal(t, DefaultBlockSize, cfg.BlockSize)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"no buffers", []Option{WithBuffers(-1)}},
		{"no shards", []Option{WithShards(-2)}},
		{"more shards than buffers", []Option{WithBuffers(4), WithShards(5)}},
		{"bad block size", []Option{WithBlockSize(-1)}},
		{"bad log level", []Option{WithConfig(Config{LogLevel: "chatty"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_MemoryBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 16 * 1024})

	c, err := New(WithResourceController(rc), WithBuffers(16), WithShards(4))
	require.NoError(t, err)
	assert.Equal(t, int64(16*1024), rc.MemoryUsage())

	_, err = New(WithResourceController(rc), WithBuffers(1), WithShards(1))
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)

	require.NoError(t, c.Close())
	assert.Zero(t, rc.MemoryUsage())

	_, err = New(WithConfig(Config{Buffers: 8, Shards: 2, MemoryLimitBytes: 1024}))
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
}

func TestCache_OffHeap(t *testing.T) {
	c := newCache(t, WithOffHeap(), WithBuffers(8), WithShards(2), WithBlockSize(4096))
	m := attachMemory(t, c, 1, 16)

	ctx := context.Background()
	b, err := c.Fetch(ctx, 1, 3)
	require.NoError(t, err)
	copy(b.Data(), "off heap")
	require.NoError(t, c.Commit(ctx, b))
	c.Release(b)

	p := make([]byte, 4096)
	require.NoError(t, m.ReadBlock(ctx, 3, p))
	assert.Equal(t, "off heap", string(p[:8]))
}

func TestCache_TwoBufferScenario(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, WithBuffers(2), WithShards(1))
	m := attachMemory(t, c, 1, 16)

	a, err := c.Fetch(ctx, 1, 10)
	require.NoError(t, err)
	b, err := c.Fetch(ctx, 1, 11)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.Reads())

	_, err = c.Fetch(ctx, 1, 12)
	assert.ErrorIs(t, err, ErrNoBuffers)

	c.Release(b)
	c.Release(a)

	// A was released last, so B is the LRU victim.
	a, err = c.Fetch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.Reads(), "hit does not read")
	c.Release(a)

	x, err := c.Fetch(ctx, 1, 12)
	require.NoError(t, err)
	c.Release(x)

	a, err = c.Fetch(ctx, 1, 10)
	require.NoError(t, err)
	c.Release(a)
	assert.Equal(t, uint64(3), m.Reads(), "block 10 survived")

	b, err = c.Fetch(ctx, 1, 11)
	require.NoError(t, err)
	c.Release(b)
	assert.Equal(t, uint64(4), m.Reads(), "block 11 was evicted")

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(4), s.Misses)
	assert.Equal(t, uint64(1), s.Exhausted)
	assert.Equal(t, uint64(4), s.Reads)
}

func TestCache_FatalExhaustion(t *testing.T) {
	c := newCache(t, WithBuffers(1), WithShards(1), WithFatalExhaustion())
	attachMemory(t, c, 1, 4)

	b, err := c.Fetch(context.Background(), 1, 0)
	require.NoError(t, err)
	defer c.Release(b)

	assert.Panics(t, func() { _, _ = c.Fetch(context.Background(), 1, 1) })
}

func TestCache_CommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, WithBuffers(4), WithShards(2))
	m := attachMemory(t, c, 7, 8)

	b, err := c.Fetch(ctx, 7, 5)
	require.NoError(t, err)
	assert.True(t, b.Valid())
	assert.Equal(t, uint32(7), b.Dev())
	assert.Equal(t, uint32(5), b.BlockNo())

	copy(b.Data(), "committed")
	require.NoError(t, c.Commit(ctx, b))
	c.Release(b)

	p := make([]byte, c.BlockSize())
	require.NoError(t, m.ReadBlock(ctx, 5, p))
	assert.Equal(t, "committed", string(p[:9]))
	assert.Equal(t, uint64(1), c.Stats().Writes)

	b, err = c.Fetch(ctx, 7, 5)
	require.NoError(t, err)
	assert.Equal(t, "committed", string(b.Data()[:9]))
	c.Release(b)
}

func TestCache_DeviceErrors(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, WithBuffers(2), WithShards(1))

	disk := errors.New("medium error")
	f := &faultyDevice{Memory: device.NewMemory(8, c.BlockSize()), readErr: disk}
	require.NoError(t, c.Attach(1, f))

	_, err := c.Fetch(ctx, 1, 3)
	var ioErr *BlockIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, uint32(1), ioErr.Dev)
	assert.Equal(t, uint32(3), ioErr.BlockNo)
	assert.False(t, ioErr.Write)
	assert.ErrorIs(t, err, disk)

	// The failed read left no lease behind: both buffers are usable.
	f.readErr = nil
	a, err := c.Fetch(ctx, 1, 3)
	require.NoError(t, err)
	b, err := c.Fetch(ctx, 1, 4)
	require.NoError(t, err)

	f.writeErr = disk
	err = c.Commit(ctx, b)
	require.ErrorAs(t, err, &ioErr)
	assert.True(t, ioErr.Write)
	assert.Contains(t, err.Error(), "write of block 4 on device 1")

	c.Release(a)
	c.Release(b)

	_, err = c.Fetch(ctx, 9, 0)
	assert.ErrorIs(t, err, device.ErrNoDevice)
}

func TestCache_Misuse(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, WithBuffers(2), WithShards(1))
	attachMemory(t, c, 1, 4)

	b, err := c.Fetch(ctx, 1, 0)
	require.NoError(t, err)
	c.Release(b)

	assert.Panics(t, func() { c.Release(b) })
	assert.Panics(t, func() { _ = c.Commit(ctx, b) })
	assert.Panics(t, func() { c.Unpin(b) })
}

func TestCache_PinSurvivesEviction(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, WithBuffers(2), WithShards(1))
	m := attachMemory(t, c, 1, 16)

	log, err := c.Fetch(ctx, 1, 0)
	require.NoError(t, err)
	c.Pin(log)
	c.Release(log)

	for blk := uint32(1); blk < 6; blk++ {
		b, err := c.Fetch(ctx, 1, blk)
		require.NoError(t, err)
		c.Release(b)
	}

	reads := m.Reads()
	b, err := c.Fetch(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, log.Index(), b.Index(), "same buffer")
	assert.Equal(t, reads, m.Reads(), "pinned block stayed resident")
	c.Release(b)

	c.Unpin(log)
	held, err := c.Fetch(ctx, 1, 7)
	require.NoError(t, err)
	b, err = c.Fetch(ctx, 1, 8)
	require.NoError(t, err, "unpinned buffer is evictable again")
	c.Release(b)
	c.Release(held)
}

func TestCache_Detach(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, WithBuffers(4), WithShards(2))
	f := &faultyDevice{Memory: device.NewMemory(8, c.BlockSize())}
	require.NoError(t, c.Attach(1, f))
	assert.ErrorIs(t, c.Attach(1, f), device.ErrDeviceExists)

	b, err := c.Fetch(ctx, 1, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Detach(1), ErrDeviceBusy)
	assert.False(t, f.closed)

	// Still attached and still cached.
	c.Release(b)
	b, err = c.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	c.Release(b)
	assert.Equal(t, uint64(1), f.Reads())

	require.NoError(t, c.Detach(1))
	assert.True(t, f.closed)
	assert.ErrorIs(t, c.Detach(1), device.ErrNoDevice)

	_, err = c.Fetch(ctx, 1, 2)
	assert.ErrorIs(t, err, device.ErrNoDevice, "invalidated blocks are not served from cache")

	m := attachMemory(t, c, 1, 8)
	b, err = c.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	c.Release(b)
	assert.Equal(t, uint64(1), m.Reads())
}

func TestCache_AttachBlockSizeMismatch(t *testing.T) {
	c := newCache(t, WithBlockSize(512), WithBuffers(2), WithShards(1))
	err := c.Attach(1, device.NewMemory(4, 1024))
	assert.ErrorIs(t, err, device.ErrBlockSize)
}

func TestCache_Close(t *testing.T) {
	c, err := New(WithBuffers(2), WithShards(1))
	require.NoError(t, err)
	f := &faultyDevice{Memory: device.NewMemory(1, c.BlockSize())}
	require.NoError(t, c.Attach(1, f))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, f.closed)

	_, err = c.Fetch(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Attach(2, f), ErrClosed)
}

func TestCache_CloseWaitsForFetch(t *testing.T) {
	ctx := context.Background()
	c, err := New(WithOffHeap(), WithBuffers(2), WithShards(1))
	require.NoError(t, err)

	attachMemory(t, c, 1, 4)
	held, err := c.Fetch(ctx, 1, 0)
	require.NoError(t, err)

	g := newGatedDevice(4, c.BlockSize())
	require.NoError(t, c.Attach(2, g))

	fetched := make(chan error, 1)
	var pending *Buf
	go func() {
		b, err := c.Fetch(ctx, 2, 1)
		pending = b
		fetched <- err
	}()
	<-g.entered

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a fetch was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, g.closed.Load(), "device closed under an in-flight read")

	// Commit on an existing lease is refused once Close has started.
	require.Eventually(t, func() bool {
		return errors.Is(c.Commit(ctx, held), ErrClosed)
	}, time.Second, time.Millisecond)

	close(g.proceed)
	require.NoError(t, <-fetched)
	require.NoError(t, <-closed)
	assert.True(t, g.closed.Load())

	c.Release(held)
	c.Release(pending)

	_, err = c.Fetch(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCache_Metrics(t *testing.T) {
	ctx := context.Background()
	mc := &BasicMetricsCollector{}
	c := newCache(t, WithBuffers(2), WithShards(2), WithMetricsCollector(mc))
	attachMemory(t, c, 1, 16)

	// Shard 0 owns one buffer, shard 1 the other; the third even block
	// must steal from shard 1.
	a, err := c.Fetch(ctx, 1, 0)
	require.NoError(t, err)
	c.Release(a)
	a, err = c.Fetch(ctx, 1, 0)
	require.NoError(t, err)
	b, err := c.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, b))
	_, err = c.Fetch(ctx, 1, 4)
	require.ErrorIs(t, err, ErrNoBuffers)
	c.Release(a)
	c.Release(b)

	s := mc.GetStats()
	assert.Equal(t, int64(4), s.FetchCount)
	assert.Equal(t, int64(1), s.FetchHits)
	assert.Equal(t, int64(1), s.FetchErrors)
	assert.Equal(t, int64(1), s.Evictions)
	assert.Equal(t, int64(1), s.Steals)
	assert.Equal(t, int64(1), s.Exhausted)
	assert.Equal(t, int64(1), s.CommitCount)
	assert.InDelta(t, 0.25, s.HitRatio(), 1e-9)
	assert.Equal(t, uint64(1), c.Stats().Steals)
}

func TestCache_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, WithBuffers(8), WithShards(3))
	m := attachMemory(t, c, 1, 4)

	const workers, rounds = 8, 200
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for range rounds {
				b, err := c.Fetch(ctx, 1, 1)
				for errors.Is(err, ErrNoBuffers) {
					runtime.Gosched()
					b, err = c.Fetch(ctx, 1, 1)
				}
				if err != nil {
					return err
				}
				n := binary.LittleEndian.Uint64(b.Data())
				runtime.Gosched()
				binary.LittleEndian.PutUint64(b.Data(), n+1)
				if err := c.Commit(ctx, b); err != nil {
					c.Release(b)
					return err
				}
				c.Release(b)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	reads := m.Reads()
	assert.Equal(t, uint64(1), reads, "block stayed resident")
	assert.Equal(t, uint64(1), c.Stats().Reads)

	p := make([]byte, c.BlockSize())
	require.NoError(t, m.ReadBlock(ctx, 1, p))
	assert.Equal(t, uint64(workers*rounds), binary.LittleEndian.Uint64(p))
}

func TestCache_BlobDevice(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	c := newCache(t, WithBuffers(4), WithShards(2))

	d, err := device.NewBlob(ctx, store, "disk0", c.BlockSize(), device.WithCompression(compress.ZSTD))
	require.NoError(t, err)
	require.NoError(t, c.Attach(1, d))

	b, err := c.Fetch(ctx, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, c.BlockSize()), b.Data())
	copy(b.Data(), bytes.Repeat([]byte("dirent"), 100))
	require.NoError(t, c.Commit(ctx, b))
	c.Release(b)

	require.NoError(t, c.Detach(1))

	d, err = device.NewBlob(ctx, store, "disk0", c.BlockSize(), device.WithCompression(compress.ZSTD))
	require.NoError(t, err)
	require.NoError(t, c.Attach(1, d))

	b, err = c.Fetch(ctx, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("dirent"), 100), b.Data()[:600])
	c.Release(b)
}

func BenchmarkCache_FetchHit(b *testing.B) {
	c, err := New(WithBuffers(64), WithShards(13))
	require.NoError(b, err)
	defer c.Close()
	require.NoError(b, c.Attach(1, device.NewMemory(64, c.BlockSize())))

	ctx := context.Background()
	b.RunParallel(func(pb *testing.PB) {
		var blk uint32
		for pb.Next() {
			buf, err := c.Fetch(ctx, 1, blk%32)
			if err != nil {
				b.Error(err)
				return
			}
			c.Release(buf)
			blk++
		}
	})
}
