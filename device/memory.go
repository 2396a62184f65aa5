package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Memory is a RAM disk.
type Memory struct {
	mu        sync.RWMutex
	data      []byte
	blockSize int
	blocks    uint32

	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewMemory creates a zeroed RAM disk of blocks blocks.
func NewMemory(blocks uint32, blockSize int) *Memory {
	return &Memory{
		data:      make([]byte, int(blocks)*blockSize),
		blockSize: blockSize,
		blocks:    blocks,
	}
}

// BlockSize implements Sizer.
func (m *Memory) BlockSize() int { return m.blockSize }

// Blocks returns the device size in blocks.
func (m *Memory) Blocks() uint32 { return m.blocks }

// Reads returns the number of completed block reads.
func (m *Memory) Reads() uint64 { return m.reads.Load() }

// Writes returns the number of completed block writes.
func (m *Memory) Writes() uint64 { return m.writes.Load() }

func (m *Memory) span(blockno uint32, p []byte) (int, error) {
	if err := checkSize(p, m.blockSize); err != nil {
		return 0, err
	}
	if blockno >= m.blocks {
		return 0, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, blockno, m.blocks)
	}
	return int(blockno) * m.blockSize, nil
}

// ReadBlock implements Device.
func (m *Memory) ReadBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	off, err := m.span(blockno, p)
	if err != nil {
		return err
	}

	m.mu.RLock()
	if m.data == nil {
		m.mu.RUnlock()
		return ErrClosed
	}
	copy(p, m.data[off:off+m.blockSize])
	m.mu.RUnlock()

	m.reads.Add(1)
	return nil
}

// WriteBlock implements Device.
func (m *Memory) WriteBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	off, err := m.span(blockno, p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.data == nil {
		m.mu.Unlock()
		return ErrClosed
	}
	copy(m.data[off:off+m.blockSize], p)
	m.mu.Unlock()

	m.writes.Add(1)
	return nil
}

// Close releases the disk contents.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}
