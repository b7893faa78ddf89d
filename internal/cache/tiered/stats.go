package tiered

import (
	"context"
	"sort"
	"time"

	"goflare.io/hearth/internal/models"
	"goflare.io/hearth/pkg/serialization"
)

// publish derives a fresh statistics snapshot from the key index and
// swaps it in atomically. Totals cover the union of both tiers,
// de-duplicated by key.
func (c *Cache) publish() {
	var (
		totalSize      int64
		oldest, newest time.Time
	)

	c.mu.Lock()
	total := len(c.index)
	for _, ie := range c.index {
		totalSize += ie.sizeBytes
		if oldest.IsZero() || ie.createdAt.Before(oldest) {
			oldest = ie.createdAt
		}
		if ie.createdAt.After(newest) {
			newest = ie.createdAt
		}
	}
	c.mu.Unlock()

	c.snapshot.Store(&models.Snapshot{
		TotalEntries:     total,
		TotalSizeBytes:   totalSize,
		HitRate:          c.metrics.HitRate(),
		MemoryUsageBytes: c.memory.ResidentSizeBytes(),
		OldestEntry:      oldest,
		NewestEntry:      newest,
		Evictions:        c.metrics.Evictions.Load(),
		DurableAvailable: c.durable.Available(),
		DurableErrors:    c.metrics.DurableErrors.Load(),
	})
}

// Stats returns the last published snapshot. It never blocks on either
// tier.
func (c *Cache) Stats() models.Snapshot {
	return *c.snapshot.Load()
}

// Keys lists every known key across both tiers, sorted.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.index))
	for key := range c.index {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// EstimateSize reports the encoded size of value under the configured
// codec, letting callers predict memory-tier eligibility before a set.
func (c *Cache) EstimateSize(value any) int64 {
	return serialization.Measure(c.cfg.Serialization.Encoder, value)
}

// KeysByType lists the keys stored under one type category, served
// from the durable tier's type index and falling back to the
// in-process view when the durable tier is unavailable.
func (c *Cache) KeysByType(ctx context.Context, typ string) []string {
	keys, err := c.durable.KeysByType(ctx, typ)
	if err == nil {
		sort.Strings(keys)
		return keys
	}
	c.metrics.DurableErrors.Inc()

	c.mu.Lock()
	for key, ie := range c.index {
		if ie.typ == typ {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	sort.Strings(keys)
	return keys
}
