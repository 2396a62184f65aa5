package blockcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// prommetrics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordFetch is called after each Fetch. hit is true when the block was
	// already resident, err is nil if successful.
	RecordFetch(hit bool, duration time.Duration, err error)

	// RecordCommit is called after each Commit.
	RecordCommit(duration time.Duration, err error)

	// RecordEviction is called when a miss recycles a buffer. steal is true
	// when the buffer came from another shard.
	RecordEviction(steal bool)

	// RecordExhausted is called when a Fetch finds no unreferenced buffer.
	RecordExhausted()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFetch(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)      {}
func (NoopMetricsCollector) RecordEviction(bool)                    {}
func (NoopMetricsCollector) RecordExhausted()                       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	FetchCount       atomic.Int64
	FetchHits        atomic.Int64
	FetchErrors      atomic.Int64
	FetchTotalNanos  atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	Evictions        atomic.Int64
	Steals           atomic.Int64
	Exhausted        atomic.Int64
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(hit bool, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.FetchHits.Add(1)
	}
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(steal bool) {
	if steal {
		b.Steals.Add(1)
	} else {
		b.Evictions.Add(1)
	}
}

// RecordExhausted implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExhausted() {
	b.Exhausted.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		FetchCount:     b.FetchCount.Load(),
		FetchHits:      b.FetchHits.Load(),
		FetchErrors:    b.FetchErrors.Load(),
		FetchAvgNanos:  avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		CommitAvgNanos: avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		Evictions:      b.Evictions.Load(),
		Steals:         b.Steals.Load(),
		Exhausted:      b.Exhausted.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FetchCount     int64
	FetchHits      int64
	FetchErrors    int64
	FetchAvgNanos  int64
	CommitCount    int64
	CommitErrors   int64
	CommitAvgNanos int64
	Evictions      int64
	Steals         int64
	Exhausted      int64
}

// HitRatio returns FetchHits / FetchCount, or 0 before the first fetch.
func (s BasicMetricsStats) HitRatio() float64 {
	if s.FetchCount == 0 {
		return 0
	}
	return float64(s.FetchHits) / float64(s.FetchCount)
}
