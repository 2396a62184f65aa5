package blockcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/blockcache/internal/bcache"
)

var (
	// ErrNoBuffers is returned by Fetch when every buffer is referenced.
	ErrNoBuffers = errors.New("blockcache: no buffers")

	// ErrInvalidConfig is returned by New for unusable sizes.
	ErrInvalidConfig = errors.New("blockcache: invalid config")

	// ErrDeviceBusy is returned by Detach while buffers of the device are referenced.
	ErrDeviceBusy = errors.New("blockcache: device busy")

	// ErrClosed is returned for operations on a closed cache.
	ErrClosed = errors.New("blockcache: closed")
)

// BlockIOError reports a failed device transfer.
//
// The underlying device error can be accessed via errors.Unwrap.
type BlockIOError struct {
	Dev     uint32
	BlockNo uint32
	Write   bool
	cause   error
}

func (e *BlockIOError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("blockcache: %s of block %d on device %d: %v", op, e.BlockNo, e.Dev, e.cause)
}

func (e *BlockIOError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, bcache.ErrNoBuffers) {
		return fmt.Errorf("%w: %w", ErrNoBuffers, err)
	}
	if errors.Is(err, bcache.ErrInvalidConfig) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return err
}
