package tiered

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// run drives the periodic cleanup: once shortly after startup, then on
// every interval tick, until ctx is cancelled.
func (c *Cache) run(ctx context.Context) {
	defer c.wg.Done()

	startup := time.NewTimer(c.cfg.CleanupStartupDelay)
	defer startup.Stop()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping cleanup loop")
			return
		case <-startup.C:
			c.cleanup(ctx)
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup reclaims expired entries from both tiers. Lazy expiration
// already hides them from readers; the sweep exists so cold keys that
// are never read again still release their space.
func (c *Cache) cleanup(ctx context.Context) {
	now := time.Now()

	purged := c.memory.PurgeExpired(now)
	c.markNotResident(purged...)

	swept, err := c.durable.SweepExpired(ctx, now)
	if err != nil {
		c.metrics.DurableErrors.Inc()
	}
	c.markSwept(swept...)

	c.rebuildFilter()
	c.publish()

	if len(purged) > 0 || len(swept) > 0 {
		c.logger.Debug("cleanup pass finished",
			zap.Int("memory_purged", len(purged)),
			zap.Int("durable_swept", len(swept)))
	}
}

// rebuildFilter resets the bloom filter from the key index so removed
// keys stop costing durable round trips. Bloom filters cannot unlearn
// members, so periodic reconstruction is the only way down.
func (c *Cache) rebuildFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filter.ClearAll()
	for key := range c.index {
		c.filter.Add([]byte(key))
	}
}
