package memory

import (
	"fmt"
	"testing"
	"time"

	"goflare.io/hearth/internal/models"
)

func entry(key string, size int, now time.Time, ttl time.Duration) *models.Entry {
	return models.NewEntry(key, make([]byte, size), now, ttl, "default")
}

func TestGetSetDelete(t *testing.T) {
	now := time.Now()
	tier := New(1024, nil)

	if _, ok := tier.Get("a", now); ok {
		t.Fatal("expected miss on empty tier")
	}

	tier.Put(entry("a", 10, now, time.Hour))
	e, ok := tier.Get("a", now)
	if !ok {
		t.Fatal("expected hit")
	}
	if e.Key != "a" {
		t.Fatalf("key = %q, want %q", e.Key, "a")
	}

	if !tier.Delete("a") {
		t.Fatal("expected delete to report removal")
	}
	if tier.Delete("a") {
		t.Fatal("expected second delete to be a no-op")
	}
	if got := tier.ResidentSizeBytes(); got != 0 {
		t.Fatalf("resident size = %d, want 0", got)
	}
}

func TestExpiredIsAbsentButNotPruned(t *testing.T) {
	now := time.Now()
	tier := New(1024, nil)
	tier.Put(entry("a", 10, now, time.Second))

	later := now.Add(2 * time.Second)
	if _, ok := tier.Get("a", later); ok {
		t.Fatal("expected expired entry to read as absent")
	}
	// Still physically present until the sweep runs.
	if !tier.Contains("a") {
		t.Fatal("expected expired entry to remain resident")
	}

	purged := tier.PurgeExpired(later)
	if len(purged) != 1 || purged[0] != "a" {
		t.Fatalf("purged = %v, want [a]", purged)
	}
	if tier.Contains("a") {
		t.Fatal("expected purge to remove entry")
	}
}

func TestCeilingNeverExceeded(t *testing.T) {
	now := time.Now()
	tier := New(100, nil)

	for i := 0; i < 20; i++ {
		tier.Put(entry(fmt.Sprintf("k%02d", i), 30, now.Add(time.Duration(i)*time.Millisecond), time.Hour))
		if got := tier.ResidentSizeBytes(); got > 100 {
			t.Fatalf("resident size %d exceeds ceiling after put %d", got, i)
		}
	}
}

func TestEvictionOrderIsLRU(t *testing.T) {
	base := time.Now()
	tier := New(100, nil)

	// Three entries fill the tier; access order makes "old" the LRU.
	old := entry("old", 40, base, time.Hour)
	mid := entry("mid", 40, base, time.Hour)
	hot := entry("hot", 20, base, time.Hour)
	tier.Put(old)
	tier.Put(mid)
	tier.Put(hot)

	old.Touch(base.Add(1 * time.Second))
	mid.Touch(base.Add(2 * time.Second))
	hot.Touch(base.Add(3 * time.Second))

	// 40 more bytes force one eviction: "old" must go first.
	evicted := tier.Put(entry("new", 40, base.Add(4*time.Second), time.Hour))
	if len(evicted) != 1 || evicted[0] != "old" {
		t.Fatalf("evicted = %v, want [old]", evicted)
	}
	if !tier.Contains("mid") || !tier.Contains("hot") || !tier.Contains("new") {
		t.Fatal("expected mid, hot and new to survive")
	}
}

func TestEvictionTieBrokenByAccessCount(t *testing.T) {
	base := time.Now()
	tier := New(100, nil)

	// Same lastAccessedAt; "cold" has the lower access count and must
	// be evicted first.
	cold := entry("cold", 40, base, time.Hour)
	warm := entry("warm", 40, base, time.Hour)
	tier.Put(cold)
	tier.Put(warm)

	at := base.Add(time.Second)
	cold.LastAccessedAt.Store(at)
	warm.AccessCount.Inc()
	warm.AccessCount.Inc()
	warm.LastAccessedAt.Store(at)

	evicted := tier.Put(entry("new", 40, base.Add(2*time.Second), time.Hour))
	if len(evicted) != 1 || evicted[0] != "cold" {
		t.Fatalf("evicted = %v, want [cold]", evicted)
	}
}

func TestPutReplacesAndAccountsSize(t *testing.T) {
	now := time.Now()
	tier := New(1024, nil)

	tier.Put(entry("a", 100, now, time.Hour))
	tier.Put(entry("a", 40, now, time.Hour))

	if got := tier.ResidentSizeBytes(); got != 40 {
		t.Fatalf("resident size = %d, want 40", got)
	}
	if got := tier.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestClear(t *testing.T) {
	now := time.Now()
	tier := New(1024, nil)
	tier.Put(entry("a", 10, now, time.Hour))
	tier.Put(entry("b", 10, now, time.Hour))

	tier.Clear()
	if tier.Len() != 0 || tier.ResidentSizeBytes() != 0 {
		t.Fatalf("len=%d size=%d after clear, want 0/0", tier.Len(), tier.ResidentSizeBytes())
	}
}
