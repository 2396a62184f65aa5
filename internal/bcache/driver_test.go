package bcache

import (
	"context"
	"errors"
	"sync"
)

type blockKey struct {
	dev, blockno uint32
}

// memDriver is an in-memory Driver that counts I/O per block.
type memDriver struct {
	mu      sync.Mutex
	blocks  map[blockKey][]byte
	reads   map[blockKey]int
	writes  map[blockKey]int
	readErr error
	onRead  func(dev, blockno uint32)
}

func newMemDriver() *memDriver {
	return &memDriver{
		blocks: make(map[blockKey][]byte),
		reads:  make(map[blockKey]int),
		writes: make(map[blockKey]int),
	}
}

func (d *memDriver) ReadWrite(_ context.Context, dev, blockno uint32, p []byte, write bool) error {
	d.mu.Lock()
	k := blockKey{dev, blockno}
	if write {
		d.writes[k]++
		d.blocks[k] = append([]byte(nil), p...)
		d.mu.Unlock()
		return nil
	}
	d.reads[k]++
	if d.readErr != nil {
		err := d.readErr
		d.mu.Unlock()
		return err
	}
	clear(p)
	copy(p, d.blocks[k])
	hook := d.onRead
	d.mu.Unlock()

	if hook != nil {
		hook(dev, blockno)
	}
	return nil
}

func (d *memDriver) readCount(dev, blockno uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[blockKey{dev, blockno}]
}

func (d *memDriver) failReads(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErr = err
}

var errDisk = errors.New("disk on fire")
