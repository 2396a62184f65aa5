package bcache

import (
	"github.com/hupe1980/blockcache/internal/sleeplock"
)

// buffer is a buffer descriptor. Identity, refcnt and shard are guarded by
// the lock of the shard the buffer is on; valid and data by the sleeplock.
type buffer struct {
	dev      uint32
	blockno  uint32
	assigned bool
	valid    bool
	refcnt   int
	shard    int
	lock     sleeplock.Lock
	data     []byte
}

// Buf is a lease on a cached block. It is returned locked by Read and stays
// valid for Pin and Unpin after Release.
type Buf struct {
	b     *buffer
	idx   int32
	token uint64
}

// Data returns the block payload. Only the lease holder may access it.
func (b *Buf) Data() []byte { return b.b.data }

// Dev returns the device id of the cached block.
func (b *Buf) Dev() uint32 { return b.b.dev }

// BlockNo returns the block number of the cached block.
func (b *Buf) BlockNo() uint32 { return b.b.blockno }

// Valid reports whether the payload holds the device contents.
func (b *Buf) Valid() bool { return b.b.valid }

// Held reports whether the lease still holds the buffer's sleeplock.
func (b *Buf) Held() bool { return b.b.lock.Holding(b.token) }

// Index returns the stable descriptor index of the buffer.
func (b *Buf) Index() int { return int(b.idx) }
