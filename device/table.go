package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/blockcache/resource"
)

// Table maps device ids to devices. It is the driver the cache performs
// all block I/O through.
type Table struct {
	mu   sync.RWMutex
	devs map[uint32]Device
	rc   *resource.Controller
}

// NewTable creates an empty device table. rc may be nil for unlimited IO.
func NewTable(rc *resource.Controller) *Table {
	return &Table{
		devs: make(map[uint32]Device),
		rc:   rc,
	}
}

// Attach registers d under id.
func (t *Table) Attach(id uint32, d Device) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.devs[id]; ok {
		return fmt.Errorf("%w: %d", ErrDeviceExists, id)
	}
	t.devs[id] = d
	return nil
}

// Detach removes id from the table and returns its device without closing it.
func (t *Table) Detach(id uint32) (Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, id)
	}
	delete(t.devs, id)
	return d, nil
}

// Lookup returns the device attached under id.
func (t *Table) Lookup(id uint32) (Device, error) {
	t.mu.RLock()
	d, ok := t.devs[id]
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, id)
	}
	return d, nil
}

// IDs returns the attached device ids in ascending order.
func (t *Table) IDs() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.devs))
}

// ReadWrite transfers one block between p and device dev.
func (t *Table) ReadWrite(ctx context.Context, dev, blockno uint32, p []byte, write bool) error {
	d, err := t.Lookup(dev)
	if err != nil {
		return err
	}
	if err := t.rc.AcquireIO(ctx, len(p)); err != nil {
		return err
	}
	if write {
		return d.WriteBlock(ctx, blockno, p)
	}
	return d.ReadBlock(ctx, blockno, p)
}

// Close detaches every device and closes them concurrently.
func (t *Table) Close() error {
	t.mu.Lock()
	devs := t.devs
	t.devs = make(map[uint32]Device)
	t.mu.Unlock()

	var g errgroup.Group
	for id, d := range devs {
		g.Go(func() error {
			if err := d.Close(); err != nil {
				return fmt.Errorf("device %d: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
