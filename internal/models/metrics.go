package models

import (
	"time"

	"go.uber.org/atomic"
)

// Metrics stores lifetime cache counters.
type Metrics struct {
	Hits          *atomic.Int64
	Misses        *atomic.Int64
	Evictions     *atomic.Int64
	DurableErrors *atomic.Int64
}

// NewMetrics creates a zeroed Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Hits:          atomic.NewInt64(0),
		Misses:        atomic.NewInt64(0),
		Evictions:     atomic.NewInt64(0),
		DurableErrors: atomic.NewInt64(0),
	}
}

// Reset zeroes the hit/miss counters. Clear() starts hit-rate
// accounting over; eviction and durable-error totals are lifetime.
func (m *Metrics) Reset() {
	m.Hits.Store(0)
	m.Misses.Store(0)
}

// HitRate returns hits/(hits+misses), or 0 when no requests were seen.
func (m *Metrics) HitRate() float64 {
	hits := m.Hits.Load()
	total := hits + m.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Snapshot is the derived statistics view published after every
// mutation. Totals cover the union of memory-resident and durable
// entries, de-duplicated by key.
type Snapshot struct {
	TotalEntries     int       `json:"total_entries"`
	TotalSizeBytes   int64     `json:"total_size_bytes"`
	HitRate          float64   `json:"hit_rate"`
	MemoryUsageBytes int64     `json:"memory_usage_bytes"`
	OldestEntry      time.Time `json:"oldest_entry_timestamp"`
	NewestEntry      time.Time `json:"newest_entry_timestamp"`
	Evictions        int64     `json:"evictions"`
	DurableAvailable bool      `json:"durable_available"`
	DurableErrors    int64     `json:"durable_errors"`
}
