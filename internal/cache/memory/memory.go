// Package memory implements the fast in-process cache tier: a bounded
// map from key to entry with recency/frequency bookkeeping and
// size-driven eviction.
package memory

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/hearth/internal/models"
)

// Tier is a size-bounded in-memory store. The total encoded bytes of
// resident entries never exceeds the ceiling; Put evicts
// least-recently-used entries (ties broken by lowest access count)
// until the invariant holds again.
type Tier struct {
	mu      sync.Mutex
	ceiling int64
	size    int64
	entries map[string]*models.Entry
	logger  *zap.Logger
}

// New creates an empty tier bounded by ceiling bytes.
func New(ceiling int64, logger *zap.Logger) *Tier {
	return &Tier{
		ceiling: ceiling,
		entries: make(map[string]*models.Entry),
		logger:  logger,
	}
}

// Get returns the entry for key if it is present and unexpired at now.
// An expired entry is treated as absent but left in place: removal is
// the sweep's (or the coordinator's lazy delete's) job.
func (t *Tier) Get(key string, now time.Time) (*models.Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.IsExpired(now) {
		return nil, false
	}
	return e, true
}

// Put inserts or replaces the entry, then evicts until the resident
// size is back under the ceiling. It returns the evicted keys so the
// coordinator can keep its bookkeeping in step. Eviction removes only
// the memory-resident copy.
func (t *Tier) Put(e *models.Entry) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[e.Key]; ok {
		t.size -= old.Metadata.SizeBytes
	}
	t.entries[e.Key] = e
	t.size += e.Metadata.SizeBytes

	if t.size <= t.ceiling {
		return nil
	}
	return t.evictLocked()
}

// evictLocked removes entries in lastAccessedAt order (oldest first,
// ties by lowest accessCount) until size <= ceiling.
func (t *Tier) evictLocked() []string {
	candidates := make([]*models.Entry, 0, len(t.entries))
	for _, e := range t.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := candidates[i].LastAccessedAt.Load(), candidates[j].LastAccessedAt.Load()
		if li.Equal(lj) {
			return candidates[i].AccessCount.Load() < candidates[j].AccessCount.Load()
		}
		return li.Before(lj)
	})

	var evicted []string
	for _, e := range candidates {
		if t.size <= t.ceiling {
			break
		}
		delete(t.entries, e.Key)
		t.size -= e.Metadata.SizeBytes
		evicted = append(evicted, e.Key)
	}

	if len(evicted) > 0 && t.logger != nil {
		t.logger.Debug("evicted entries from memory tier",
			zap.Int("count", len(evicted)),
			zap.Int64("resident_bytes", t.size))
	}
	return evicted
}

// Delete removes the resident entry for key, reporting whether one was
// present.
func (t *Tier) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	delete(t.entries, key)
	t.size -= e.Metadata.SizeBytes
	return true
}

// DeleteExpired removes the resident entry for key only when it has
// expired at now, reporting whether it did. The coordinator uses this
// for lazy expiration so a concurrent overwrite is never dropped.
func (t *Tier) DeleteExpired(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || !e.IsExpired(now) {
		return false
	}
	delete(t.entries, key)
	t.size -= e.Metadata.SizeBytes
	return true
}

// Clear removes every resident entry.
func (t *Tier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]*models.Entry)
	t.size = 0
}

// PurgeExpired removes entries whose expiry has passed and returns
// their keys.
func (t *Tier) PurgeExpired(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var purged []string
	for key, e := range t.entries {
		if e.IsExpired(now) {
			delete(t.entries, key)
			t.size -= e.Metadata.SizeBytes
			purged = append(purged, key)
		}
	}
	return purged
}

// ResidentSizeBytes is the sum of metadata sizes over resident entries.
func (t *Tier) ResidentSizeBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Len returns the number of resident entries, expired ones included.
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Contains reports physical residency without touching access state.
func (t *Tier) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Entries returns a point-in-time slice of the resident entries, used
// by the stats union and the diagnostic export.
func (t *Tier) Entries() []*models.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*models.Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}
