package durable

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/hearth/internal/config"
	"goflare.io/hearth/internal/models"
)

func redisStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("HEARTH_TEST_REDIS")
	if addr == "" {
		t.Skip("HEARTH_TEST_REDIS not set, skipping Redis integration test")
	}

	cfg := config.New()
	cfg.Namespace = "hearth-test-" + t.Name()

	s := New(redis.NewClient(&redis.Options{Addr: addr}), cfg, zap.NewNop())
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("cannot reach Redis at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := redisStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if _, err := s.Get(ctx, "missing"); err != models.ErrKeyNotFound {
		t.Fatalf("Get(missing) = %v, want ErrKeyNotFound", err)
	}

	in := models.NewEntry("k1", []byte("payload"), now, time.Hour, "report")
	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	out, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(out.Data) != "payload" || out.Metadata.Type != "report" {
		t.Fatalf("got %+v", out)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("expiresAt = %v, want %v", out.ExpiresAt, in.ExpiresAt)
	}
}

func TestStore_TypeIndexFollowsOverwrite(t *testing.T) {
	s := redisStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Put(ctx, models.NewEntry("k", []byte("v"), now, time.Hour, "a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, models.NewEntry("k", []byte("v"), now, time.Hour, "b")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	aKeys, err := s.KeysByType(ctx, "a")
	if err != nil {
		t.Fatalf("KeysByType(a): %v", err)
	}
	if len(aKeys) != 0 {
		t.Fatalf("type index a = %v, want empty after overwrite", aKeys)
	}
	bKeys, err := s.KeysByType(ctx, "b")
	if err != nil {
		t.Fatalf("KeysByType(b): %v", err)
	}
	if len(bKeys) != 1 || bKeys[0] != "k" {
		t.Fatalf("type index b = %v, want [k]", bKeys)
	}
}

func TestStore_SweepExpired(t *testing.T) {
	s := redisStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Put(ctx, models.NewEntry("dead", []byte("v"), now.Add(-2*time.Hour), time.Hour, "a")); err != nil {
		t.Fatalf("Put dead: %v", err)
	}
	if err := s.Put(ctx, models.NewEntry("live", []byte("v"), now, time.Hour, "a")); err != nil {
		t.Fatalf("Put live: %v", err)
	}

	// The adapter returns expired records as stored; only the sweep
	// removes them.
	if _, err := s.Get(ctx, "dead"); err != nil {
		t.Fatalf("Get(dead) before sweep: %v", err)
	}

	swept, err := s.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(swept) != 1 || swept[0] != "dead" {
		t.Fatalf("swept = %v, want [dead]", swept)
	}
	if _, err := s.Get(ctx, "dead"); err != models.ErrKeyNotFound {
		t.Fatalf("Get(dead) after sweep = %v, want ErrKeyNotFound", err)
	}
	if _, err := s.Get(ctx, "live"); err != nil {
		t.Fatalf("Get(live) after sweep: %v", err)
	}
}

func TestStore_TouchAccessPersists(t *testing.T) {
	s := redisStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Put(ctx, models.NewEntry("k", []byte("v"), now, time.Hour, "a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.TouchAccess(ctx, "k", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("TouchAccess: %v", err)
		}
	}

	out, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := out.AccessCount.Load(); got != 3 {
		t.Fatalf("access count = %d, want 3", got)
	}
}

func TestStore_TouchAccessSkipsDeletedKey(t *testing.T) {
	s := redisStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Put(ctx, models.NewEntry("k", []byte("v"), now, time.Hour, "a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Touching a key deleted since the read must not recreate it as a
	// stray hash.
	if err := s.TouchAccess(ctx, "k", now); err != nil {
		t.Fatalf("TouchAccess: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != models.ErrKeyNotFound {
		t.Fatalf("Get after touch = %v, want ErrKeyNotFound", err)
	}
}

func TestStore_AllAndClear(t *testing.T) {
	s := redisStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, models.NewEntry(key, []byte(key), now, time.Hour, "seed")); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("All returned %d entries, want 3", len(all))
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	all, err = s.All(ctx)
	if err != nil {
		t.Fatalf("All after clear: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("All after clear returned %d entries, want 0", len(all))
	}
	keys, err := s.KeysByType(ctx, "seed")
	if err != nil {
		t.Fatalf("KeysByType after clear: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("type index after clear = %v, want empty", keys)
	}
}
