package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/blockcache/blobstore"
	"github.com/hupe1980/blockcache/internal/compress"
)

// Blob stores one framed object per block under "<name>/<blockno>".
// A bitmap of written blocks lets never-written blocks read as zeros
// without a store round trip.
type Blob struct {
	store     blobstore.Store
	name      string
	blockSize int
	algo      compress.Algorithm

	mu      sync.RWMutex
	present *roaring.Bitmap
	closed  bool
}

// BlobOption configures NewBlob.
type BlobOption func(*Blob)

// WithCompression selects the block compression. The default is none.
func WithCompression(a compress.Algorithm) BlobOption {
	return func(b *Blob) { b.algo = a }
}

// NewBlob opens the blob device name in store, loading the set of blocks
// already present.
func NewBlob(ctx context.Context, store blobstore.Store, name string, blockSize int, opts ...BlobOption) (*Blob, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("device: invalid block size %d", blockSize)
	}
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("device: invalid blob device name %q", name)
	}

	b := &Blob{
		store:     store,
		name:      name,
		blockSize: blockSize,
		present:   roaring.New(),
	}
	for _, opt := range opts {
		opt(b)
	}

	names, err := store.List(ctx, name+"/")
	if err != nil {
		return nil, fmt.Errorf("device: list %s: %w", name, err)
	}
	for _, n := range names {
		blockno, err := strconv.ParseUint(strings.TrimPrefix(n, name+"/"), 10, 32)
		if err != nil {
			continue
		}
		b.present.Add(uint32(blockno))
	}
	b.present.RunOptimize()

	return b, nil
}

// BlockSize implements Sizer.
func (b *Blob) BlockSize() int { return b.blockSize }

// Present returns the number of blocks stored.
func (b *Blob) Present() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.present.GetCardinality()
}

func (b *Blob) key(blockno uint32) string {
	return fmt.Sprintf("%s/%010d", b.name, blockno)
}

func (b *Blob) has(blockno uint32) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, ErrClosed
	}
	return b.present.Contains(blockno), nil
}

// ReadBlock implements Device.
func (b *Blob) ReadBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := checkSize(p, b.blockSize); err != nil {
		return err
	}

	ok, err := b.has(blockno)
	if err != nil {
		return err
	}
	if !ok {
		zero(p)
		return nil
	}

	frame, err := b.store.Get(ctx, b.key(blockno))
	if errors.Is(err, blobstore.ErrNotFound) {
		zero(p)
		return nil
	}
	if err != nil {
		return fmt.Errorf("device: get block %d: %w", blockno, err)
	}

	if err := compress.Decode(frame, p); err != nil {
		return fmt.Errorf("device: decode block %d: %w", blockno, err)
	}
	return nil
}

// WriteBlock implements Device.
func (b *Blob) WriteBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := checkSize(p, b.blockSize); err != nil {
		return err
	}
	if _, err := b.has(blockno); err != nil {
		return err
	}

	frame, err := compress.Encode(b.algo, p)
	if err != nil {
		return err
	}
	if err := b.store.Put(ctx, b.key(blockno), frame); err != nil {
		return fmt.Errorf("device: put block %d: %w", blockno, err)
	}

	b.mu.Lock()
	b.present.Add(blockno)
	b.mu.Unlock()
	return nil
}

// Discard deletes a block from the store so it reads as zeros again.
func (b *Blob) Discard(ctx context.Context, blockno uint32) error {
	if err := b.store.Delete(ctx, b.key(blockno)); err != nil {
		return fmt.Errorf("device: delete block %d: %w", blockno, err)
	}

	b.mu.Lock()
	b.present.Remove(blockno)
	b.mu.Unlock()
	return nil
}

// Close marks the device closed. The store is owned by the caller.
func (b *Blob) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
