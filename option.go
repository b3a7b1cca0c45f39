package diskdb

import (
	"time"

	"diskdb/internal/txn"
)

// Options configures an Engine, built with the functional options
// pattern. Recognized
// options: buffer_pool_size, lru_k, page_size_bytes,
// leaf_max_size, internal_max_size, cycle_detection_interval,
// isolation_level.
type Options struct {
	bufferPoolSize         int
	lruK                   int
	pageSizeBytes          int
	leafMaxSize            int
	internalMaxSize        int
	cycleDetectionInterval time.Duration
	isolationLevel         txn.IsolationLevel
	logger                 Logger
}

// DefaultOptions returns the engine's default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		bufferPoolSize:         256,
		lruK:                   2,
		pageSizeBytes:          4096,
		leafMaxSize:            64,
		internalMaxSize:        64,
		cycleDetectionInterval: 50 * time.Millisecond,
		isolationLevel:         txn.RepeatableRead,
		logger:                 DiscardLogger{},
	}
}

// Option configures Options using the functional options pattern.
type Option func(*Options)

// WithBufferPoolSize sets the number of frames the buffer pool holds.
//
//goland:noinspection GoUnusedExportedFunction
func WithBufferPoolSize(frames int) Option {
	return func(o *Options) { o.bufferPoolSize = frames }
}

// WithLRUK sets K (K >= 1) for the replacer's backward-K-distance policy.
//
//goland:noinspection GoUnusedExportedFunction
func WithLRUK(k int) Option {
	return func(o *Options) { o.lruK = k }
}

// WithPageSize sets the page size in bytes. The page size is fixed at
// compile time, so Open returns ErrBadPageSize for any value other than
// 4096.
//
//goland:noinspection GoUnusedExportedFunction
func WithPageSize(bytes int) Option {
	return func(o *Options) { o.pageSizeBytes = bytes }
}

// WithLeafMaxSize sets a B+Tree's maximum leaf fanout.
//
//goland:noinspection GoUnusedExportedFunction
func WithLeafMaxSize(n int) Option {
	return func(o *Options) { o.leafMaxSize = n }
}

// WithInternalMaxSize sets a B+Tree's maximum internal-node fanout.
//
//goland:noinspection GoUnusedExportedFunction
func WithInternalMaxSize(n int) Option {
	return func(o *Options) { o.internalMaxSize = n }
}

// WithCycleDetectionInterval sets how often the lock manager's
// background detector scans the wait-for graph for a cycle.
//
//goland:noinspection GoUnusedExportedFunction
func WithCycleDetectionInterval(d time.Duration) Option {
	return func(o *Options) { o.cycleDetectionInterval = d }
}

// WithIsolationLevel sets the default isolation level new transactions
// begin at.
//
//goland:noinspection GoUnusedExportedFunction
func WithIsolationLevel(level txn.IsolationLevel) Option {
	return func(o *Options) { o.isolationLevel = level }
}

// WithLogger sets the Logger the engine's internals log through.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(o *Options) { o.logger = l }
}
