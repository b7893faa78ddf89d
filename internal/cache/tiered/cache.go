// Package tiered implements the cache coordinator: the single entry
// point that ties the memory tier and the durable tier together with
// usage-based promotion, write-through, lazy expiration, a periodic
// sweep and derived statistics.
package tiered

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/hearth/internal/cache/memory"
	"goflare.io/hearth/internal/config"
	"goflare.io/hearth/internal/models"
)

// DurableStore is the contract the coordinator requires from the
// persistent tier. Implementations fail soft: reads surface
// models.ErrKeyNotFound for absence and models.ErrDurableUnavailable
// for infrastructure failure, never panic or block indefinitely.
type DurableStore interface {
	Get(ctx context.Context, key string) (*models.Entry, error)
	Put(ctx context.Context, e *models.Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	TouchAccess(ctx context.Context, key string, at time.Time) error
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)
	All(ctx context.Context) ([]*models.Entry, error)
	KeysByType(ctx context.Context, typ string) ([]string, error)
	Available() bool
	Close() error
}

// indexEntry is the coordinator's in-process view of one known key,
// kept so the stats union and the bloom filter never need a durable
// round trip.
type indexEntry struct {
	sizeBytes int64
	createdAt time.Time
	typ       string
	resident  bool
	durable   bool
}

// Cache coordinates the two tiers behind one get/set/delete surface.
type Cache struct {
	cfg     *config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
	memory  *memory.Tier
	durable DurableStore
	metrics *models.Metrics
	sf      singleflight.Group

	// mu guards index and filter. filterSeeded records whether the
	// filter saw every pre-existing durable key; until then a negative
	// test proves nothing and is ignored.
	mu           sync.Mutex
	index        map[string]*indexEntry
	filter       *bloom.BloomFilter
	filterSeeded bool

	snapshot *atomic.Pointer[models.Snapshot]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the coordinator, optionally seeds the memory tier from
// the durable tier, and starts the cleanup loop. ctx bounds the
// background loop; Close stops it.
func New(ctx context.Context, cfg *config.Config, store DurableStore) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:      cfg,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("hearth"),
		memory:   memory.New(cfg.MemoryCeiling, cfg.Logger),
		durable:  store,
		metrics:  models.NewMetrics(),
		index:    make(map[string]*indexEntry),
		filter:   bloom.NewWithEstimates(cfg.Bloom.ExpectedItems, cfg.Bloom.FalsePositiveRate),
		snapshot: atomic.NewPointer(&models.Snapshot{DurableAvailable: true}),
	}

	if cfg.SeedOnStart {
		c.seed(ctx)
	}
	c.publish()

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(loopCtx)

	return c, nil
}

// seed loads the durable tier once at startup: it warms the memory
// tier (hottest entries first, ceilings respected) and primes the key
// index and the bloom filter.
func (c *Cache) seed(ctx context.Context) {
	entries, err := c.durable.All(ctx)
	if err != nil {
		c.metrics.DurableErrors.Inc()
		c.logger.Warn("startup seed failed, continuing unseeded", zap.Error(err))
		return
	}

	// Warm the hottest entries first: the expiry index hands entries
	// back in expiry order, which says nothing about access recency.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessedAt.Load().After(entries[j].LastAccessedAt.Load())
	})

	now := time.Now()
	warmed := 0
	var used int64

	c.mu.Lock()
	for _, e := range entries {
		resident := false
		if !e.IsExpired(now) &&
			e.Metadata.SizeBytes < c.cfg.EntryCeiling &&
			used+e.Metadata.SizeBytes <= c.cfg.MemoryCeiling {
			c.memory.Put(e)
			used += e.Metadata.SizeBytes
			resident = true
			warmed++
		}
		c.index[e.Key] = &indexEntry{
			sizeBytes: e.Metadata.SizeBytes,
			createdAt: e.CreatedAt,
			typ:       e.Metadata.Type,
			resident:  resident,
			durable:   true,
		}
		c.filter.Add([]byte(e.Key))
	}
	c.filterSeeded = true
	c.mu.Unlock()

	c.logger.Info("seeded from durable tier",
		zap.Int("entries", len(entries)),
		zap.Int("warmed", warmed))
}

// Get retrieves the value stored under key into value, which must be a
// pointer compatible with the configured decoder. The boolean reports
// a hit. Durable-tier failures read as misses; Get never surfaces
// them.
func (c *Cache) Get(ctx context.Context, key string, value any) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "hearth.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	e, ok := c.lookup(ctx, key)
	span.SetAttributes(attribute.Bool("hit", ok))
	c.publish()
	if !ok {
		return false, nil
	}

	if err := c.cfg.Serialization.Decoder(bytes.NewReader(e.Data)).Decode(value); err != nil {
		c.logger.Error("failed to decode cached value",
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("decode value for %q: %w", key, err)
	}
	return true, nil
}

// Has reports whether key resolves to an unexpired entry in either
// tier. It is a read like any other: access bookkeeping and hit/miss
// accounting apply.
func (c *Cache) Has(ctx context.Context, key string) bool {
	ctx, span := c.tracer.Start(ctx, "hearth.Has", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	_, ok := c.lookup(ctx, key)
	span.SetAttributes(attribute.Bool("hit", ok))
	c.publish()
	return ok
}

// lookup resolves key across both tiers, applying lazy expiration,
// access bookkeeping and the promotion rule.
func (c *Cache) lookup(ctx context.Context, key string) (*models.Entry, bool) {
	now := time.Now()

	if e, ok := c.memory.Get(key, now); ok {
		e.Touch(now)
		c.metrics.Hits.Inc()
		return e, true
	}

	// A physically resident but expired copy reads as absent; drop it
	// now rather than waiting for the sweep.
	if c.memory.DeleteExpired(key, now) {
		c.markNotResident(key)
	}

	if c.bloomDenies(key) {
		c.metrics.Misses.Inc()
		return nil, false
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.durable.Get(ctx, key)
	})
	if err != nil {
		if !errors.Is(err, models.ErrKeyNotFound) {
			c.metrics.DurableErrors.Inc()
		}
		c.metrics.Misses.Inc()
		return nil, false
	}

	e := v.(*models.Entry)
	if e.IsExpired(now) {
		// Lazy expiration in the durable tier.
		if err := c.durable.Delete(ctx, key); err != nil {
			c.metrics.DurableErrors.Inc()
		} else {
			c.markSwept(key)
		}
		c.metrics.Misses.Inc()
		return nil, false
	}

	count := e.Touch(now)
	if err := c.durable.TouchAccess(ctx, key, now); err != nil {
		c.metrics.DurableErrors.Inc()
	}
	c.metrics.Hits.Inc()

	// Promotion: only entries read repeatedly and small enough earn a
	// memory copy, so cold, large or one-off reads never flood the
	// tier.
	resident := false
	if count > c.cfg.PromoteAfter && e.Metadata.SizeBytes < c.cfg.EntryCeiling {
		c.noteEvicted(c.memory.Put(e))
		resident = true
	}
	c.record(e, resident, true)

	return e, true
}

// Set stores value under key with the default type category.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl ...time.Duration) error {
	return c.SetTyped(ctx, key, value, c.cfg.DefaultType, ttl...)
}

// SetTyped stores value under key tagged with an explicit type. The
// entry lands in the memory tier when it is small enough and is always
// written through to the durable tier; a durable failure degrades
// durability but never fails the call.
func (c *Cache) SetTyped(ctx context.Context, key string, value any, typ string, ttl ...time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "hearth.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	var buf bytes.Buffer
	if err := c.cfg.Serialization.Encoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("%w: %q: %w", models.ErrSerialization, key, err)
	}

	now := time.Now()
	e := models.NewEntry(key, buf.Bytes(), now, c.cfg.TTLOrDefault(ttl...), typ)

	resident := false
	if e.Metadata.SizeBytes < c.cfg.EntryCeiling {
		c.noteEvicted(c.memory.Put(e))
		resident = true
	}

	durableOK := true
	if err := c.durable.Put(ctx, e); err != nil {
		// Deliberate best-effort contract: the entry stays served from
		// memory for this process lifetime but will not survive a
		// restart.
		c.metrics.DurableErrors.Inc()
		c.logger.Warn("write-through to durable tier failed",
			zap.String("key", key),
			zap.Error(err))
		durableOK = false
	}

	// An oversized entry whose write-through also failed landed in
	// neither tier; indexing it would publish stats for a key no read
	// can return.
	if resident || durableOK {
		c.record(e, resident, durableOK)
	}
	c.publish()
	return nil
}

// Delete removes key from both tiers. Absence in either tier is not an
// error; deleting twice is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	ctx, span := c.tracer.Start(ctx, "hearth.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.memory.Delete(key)
	if err := c.durable.Delete(ctx, key); err != nil {
		c.metrics.DurableErrors.Inc()
	}

	c.mu.Lock()
	delete(c.index, key)
	c.mu.Unlock()

	c.publish()
	return nil
}

// Clear empties both tiers and restarts hit-rate accounting.
func (c *Cache) Clear(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "hearth.Clear")
	defer span.End()

	c.memory.Clear()
	durableOK := true
	if err := c.durable.Clear(ctx); err != nil {
		c.metrics.DurableErrors.Inc()
		c.logger.Warn("failed to clear durable tier", zap.Error(err))
		durableOK = false
	}

	c.mu.Lock()
	c.index = make(map[string]*indexEntry)
	c.filter = bloom.NewWithEstimates(c.cfg.Bloom.ExpectedItems, c.cfg.Bloom.FalsePositiveRate)
	// After a failed durable clear, stale keys survive that the fresh
	// filter has never seen.
	c.filterSeeded = durableOK
	c.mu.Unlock()

	c.metrics.Reset()
	c.publish()
	return nil
}

// Close stops the cleanup loop and releases the durable tier.
func (c *Cache) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.durable.Close()
}

// bloomDenies reports a provably absent key: a negative answer from a
// fully seeded filter.
func (c *Cache) bloomDenies(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filterSeeded && !c.filter.Test([]byte(key))
}

// record upserts the index view of e and teaches the filter its key.
func (c *Cache) record(e *models.Entry, resident, durable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index[e.Key] = &indexEntry{
		sizeBytes: e.Metadata.SizeBytes,
		createdAt: e.CreatedAt,
		typ:       e.Metadata.Type,
		resident:  resident,
		durable:   durable,
	}
	c.filter.Add([]byte(e.Key))
}

// noteEvicted accounts for keys the memory tier evicted under size
// pressure. Their durable copies survive.
func (c *Cache) noteEvicted(keys []string) {
	if len(keys) == 0 {
		return
	}
	c.metrics.Evictions.Add(int64(len(keys)))
	c.markNotResident(keys...)
}

// markNotResident clears the resident flag; a key durable nowhere is
// forgotten entirely.
func (c *Cache) markNotResident(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		ie, ok := c.index[key]
		if !ok {
			continue
		}
		ie.resident = false
		if !ie.durable {
			delete(c.index, key)
		}
	}
}

// markSwept clears the durable flag after a confirmed durable removal.
func (c *Cache) markSwept(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		ie, ok := c.index[key]
		if !ok {
			continue
		}
		ie.durable = false
		if !ie.resident {
			delete(c.index, key)
		}
	}
}
