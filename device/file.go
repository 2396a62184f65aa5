package device

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// File is a block device over a regular file. Blocks that lie past the end
// of the file read as zeros; writing extends the file.
type File struct {
	mu        sync.RWMutex
	f         *os.File
	blockSize int
	blocks    uint32
	sync      bool
}

// FileOption configures OpenFile.
type FileOption func(*File)

// WithBlocks bounds the device to n blocks. Zero means unbounded.
func WithBlocks(n uint32) FileOption {
	return func(f *File) { f.blocks = n }
}

// WithSync makes every block write durable before it returns.
func WithSync(enabled bool) FileOption {
	return func(f *File) { f.sync = enabled }
}

// OpenFile opens or creates the file at path as a block device.
func OpenFile(path string, blockSize int, opts ...FileOption) (*File, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("device: invalid block size %d", blockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	d := &File{f: f, blockSize: blockSize}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// BlockSize implements Sizer.
func (d *File) BlockSize() int { return d.blockSize }

func (d *File) offset(blockno uint32, p []byte) (int64, error) {
	if err := checkSize(p, d.blockSize); err != nil {
		return 0, err
	}
	if d.blocks > 0 && blockno >= d.blocks {
		return 0, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, blockno, d.blocks)
	}
	return int64(blockno) * int64(d.blockSize), nil
}

// ReadBlock implements Device.
func (d *File) ReadBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	off, err := d.offset(blockno, p)
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.f == nil {
		return ErrClosed
	}

	n, err := pread(d.f, p, off)
	if err != nil {
		return fmt.Errorf("device: read block %d: %w", blockno, err)
	}
	zero(p[n:])
	return nil
}

// WriteBlock implements Device.
func (d *File) WriteBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	off, err := d.offset(blockno, p)
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.f == nil {
		return ErrClosed
	}

	if err := pwrite(d.f, p, off); err != nil {
		return fmt.Errorf("device: write block %d: %w", blockno, err)
	}
	if d.sync {
		if err := fsync(d.f); err != nil {
			return fmt.Errorf("device: sync block %d: %w", blockno, err)
		}
	}
	return nil
}

// Sync flushes the file to stable storage.
func (d *File) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.f == nil {
		return ErrClosed
	}
	return fsync(d.f)
}

// Close syncs and closes the file.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return nil
	}
	err := fsync(d.f)
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	d.f = nil
	return err
}
