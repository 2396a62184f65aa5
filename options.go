package blockcache

import (
	"log/slog"

	"github.com/hupe1980/blockcache/resource"
)

type options struct {
	cfg              Config
	logger           *Logger
	metricsCollector MetricsCollector
	rc               *resource.Controller
}

// Option configures New.
type Option func(*options)

// WithConfig replaces the whole configuration, e.g. with the result of
// LoadConfig. Options applied afterwards override individual fields.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		cfg.applyDefaults()
		o.cfg = cfg
	}
}

// WithBuffers sets the number of buffers (N_BUFFERS).
func WithBuffers(n int) Option {
	return func(o *options) { o.cfg.Buffers = n }
}

// WithShards sets the number of shards (N_SHARDS). Prime counts spread
// sequential block numbers best.
func WithShards(n int) Option {
	return func(o *options) { o.cfg.Shards = n }
}

// WithBlockSize sets the payload size of every buffer.
func WithBlockSize(n int) Option {
	return func(o *options) { o.cfg.BlockSize = n }
}

// WithFatalExhaustion makes Fetch panic instead of returning ErrNoBuffers.
func WithFatalExhaustion() Option {
	return func(o *options) { o.cfg.FatalExhaustion = true }
}

// WithOffHeap places buffer payloads in an anonymous memory map outside the
// Go heap.
func WithOffHeap() Option {
	return func(o *options) { o.cfg.OffHeap = true }
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithLogLevel enables a text logger on stderr at level. It is ignored
// when WithLogger is also given.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) { o.cfg.LogLevel = level.String() }
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithResourceController shares a memory budget and IO rate limit between
// caches. The cache reserves Buffers*BlockSize bytes from it.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}
