package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/blockcache/internal/compress"
)

// RedisClient is the subset of redis.Cmdable used by Redis.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Redis keeps one framed value per block under "<prefix>:<blockno>".
// Missing keys read as zeros.
type Redis struct {
	client    RedisClient
	prefix    string
	blockSize int
	algo      compress.Algorithm
}

// RedisOption configures NewRedis.
type RedisOption func(*Redis)

// WithRedisCompression selects the block compression. The default is none.
func WithRedisCompression(a compress.Algorithm) RedisOption {
	return func(r *Redis) { r.algo = a }
}

// NewRedis creates a Redis-backed device. Closing the device closes client.
func NewRedis(client RedisClient, prefix string, blockSize int, opts ...RedisOption) (*Redis, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("device: invalid block size %d", blockSize)
	}
	r := &Redis{
		client:    client,
		prefix:    prefix,
		blockSize: blockSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// BlockSize implements Sizer.
func (r *Redis) BlockSize() int { return r.blockSize }

func (r *Redis) key(blockno uint32) string {
	return r.prefix + ":" + strconv.FormatUint(uint64(blockno), 10)
}

// ReadBlock implements Device.
func (r *Redis) ReadBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := checkSize(p, r.blockSize); err != nil {
		return err
	}

	frame, err := r.client.Get(ctx, r.key(blockno)).Bytes()
	if errors.Is(err, redis.Nil) {
		zero(p)
		return nil
	}
	if err != nil {
		return fmt.Errorf("device: redis get block %d: %w", blockno, err)
	}

	if err := compress.Decode(frame, p); err != nil {
		return fmt.Errorf("device: decode block %d: %w", blockno, err)
	}
	return nil
}

// WriteBlock implements Device.
func (r *Redis) WriteBlock(ctx context.Context, blockno uint32, p []byte) error {
	if err := checkSize(p, r.blockSize); err != nil {
		return err
	}

	frame, err := compress.Encode(r.algo, p)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(blockno), frame, 0).Err(); err != nil {
		return fmt.Errorf("device: redis set block %d: %w", blockno, err)
	}
	return nil
}

// Discard deletes a block so it reads as zeros again.
func (r *Redis) Discard(ctx context.Context, blockno uint32) error {
	if err := r.client.Del(ctx, r.key(blockno)).Err(); err != nil {
		return fmt.Errorf("device: redis del block %d: %w", blockno, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
