package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/blockcache/internal/compress"
)

var (
	// ErrNoDevice is returned for I/O on a device id that is not attached.
	ErrNoDevice = errors.New("device: no such device")
	// ErrDeviceExists is returned when attaching a device id twice.
	ErrDeviceExists = errors.New("device: device already attached")
	// ErrOutOfRange is returned for block numbers beyond the device.
	ErrOutOfRange = errors.New("device: block out of range")
	// ErrBlockSize is returned when a transfer buffer does not match the device block size.
	ErrBlockSize = errors.New("device: block size mismatch")
	// ErrClosed is returned for I/O on a closed device.
	ErrClosed = errors.New("device: closed")
	// ErrChecksum is returned when a stored block fails verification.
	ErrChecksum = compress.ErrChecksum
)

// Device is a synchronous block device. len(p) is always one block.
type Device interface {
	ReadBlock(ctx context.Context, blockno uint32, p []byte) error
	WriteBlock(ctx context.Context, blockno uint32, p []byte) error
	Close() error
}

// Sizer is implemented by devices with a fixed block size.
type Sizer interface {
	BlockSize() int
}

func checkSize(p []byte, blockSize int) error {
	if len(p) != blockSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBlockSize, len(p), blockSize)
	}
	return nil
}

func zero(p []byte) {
	clear(p)
}
