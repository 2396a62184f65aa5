// Package compress encodes cache blocks into self-describing frames for
// storage backends that keep one object per block.
//
// Frame layout (little endian):
//
//	[0]      algorithm
//	[1:5]    uncompressed size
//	[5:9]    payload size (0 = stored uncompressed)
//	[9:13]   CRC32C of the uncompressed block
//	[13:]    payload
//
// Blocks that do not shrink below 90% of their size are stored raw.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/blockcache/internal/hash"
)

// Algorithm selects the block compression.
type Algorithm uint8

const (
	// None stores blocks uncompressed.
	None Algorithm = 0
	// LZ4 favors speed.
	LZ4 Algorithm = 1
	// ZSTD favors ratio.
	ZSTD Algorithm = 2
)

const headerSize = 13

var (
	// ErrCorrupt is returned for frames that cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt frame")
	// ErrChecksum is returned when a decoded block fails its checksum.
	ErrChecksum = errors.New("compress: checksum mismatch")
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm maps "none", "lz4" or "zstd" to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("compress: unknown algorithm %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

// Encode frames block using algorithm a.
func Encode(a Algorithm, block []byte) ([]byte, error) {
	var payload []byte

	switch a {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(block)))
		var c lz4.Compressor
		n, err := c.CompressBlock(block, buf)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		payload = buf[:n]
	case ZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		payload = enc.EncodeAll(block, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", a)
	}

	stored := len(payload) > 0 && len(payload)*10 < len(block)*9

	frame := make([]byte, headerSize, headerSize+len(block))
	frame[0] = byte(a)
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(block)))
	binary.LittleEndian.PutUint32(frame[9:], hash.CRC32C(block))
	if stored {
		binary.LittleEndian.PutUint32(frame[5:], uint32(len(payload)))
		return append(frame, payload...), nil
	}
	return append(frame, block...), nil
}

// Decode unpacks frame into dst, which must be exactly the block size
// recorded in the frame.
func Decode(frame, dst []byte) error {
	if len(frame) < headerSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(frame))
	}

	a := Algorithm(frame[0])
	size := binary.LittleEndian.Uint32(frame[1:])
	payloadSize := binary.LittleEndian.Uint32(frame[5:])
	sum := binary.LittleEndian.Uint32(frame[9:])
	body := frame[headerSize:]

	if int(size) != len(dst) {
		return fmt.Errorf("%w: block size %d, want %d", ErrCorrupt, size, len(dst))
	}

	if payloadSize == 0 {
		if len(body) != int(size) {
			return fmt.Errorf("%w: raw payload %d bytes, want %d", ErrCorrupt, len(body), size)
		}
		copy(dst, body)
	} else {
		if len(body) != int(payloadSize) {
			return fmt.Errorf("%w: payload %d bytes, want %d", ErrCorrupt, len(body), payloadSize)
		}
		if err := decompress(a, body, dst); err != nil {
			return err
		}
	}

	if !hash.VerifyCRC32C(dst, sum) {
		return ErrChecksum
	}
	return nil
}

func decompress(a Algorithm, body, dst []byte) error {
	switch a {
	case LZ4:
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
		}
		if n != len(dst) {
			return fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrCorrupt, n, len(dst))
		}
		return nil
	case ZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return fmt.Errorf("compress: zstd: %w", err)
		}
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(body, dst[:0])
		if err != nil {
			return fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrCorrupt, len(out), len(dst))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown algorithm %d", ErrCorrupt, a)
	}
}
