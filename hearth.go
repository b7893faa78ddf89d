// Package hearth is a two-tier caching engine: a size-bounded memory
// tier in front of a Redis-backed durable tier, coordinated with
// write-through, usage-based promotion and fail-soft degradation when
// Redis is unreachable.
package hearth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/hearth/internal/cache/durable"
	"goflare.io/hearth/internal/cache/tiered"
	"goflare.io/hearth/internal/config"
	"goflare.io/hearth/internal/models"
	"goflare.io/hearth/pkg/serialization"
)

// Option adjusts the engine configuration before construction.
type Option func(*config.Config) error

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config.Config) error {
		cfg.Logger = logger
		return nil
	}
}

// WithMemoryCeiling bounds the total encoded bytes resident in the
// memory tier.
func WithMemoryCeiling(bytes int64) Option {
	return func(cfg *config.Config) error {
		cfg.MemoryCeiling = bytes
		return nil
	}
}

// WithEntryCeiling bounds the size of a single entry eligible for the
// memory tier; larger entries live only in the durable tier.
func WithEntryCeiling(bytes int64) Option {
	return func(cfg *config.Config) error {
		cfg.EntryCeiling = bytes
		return nil
	}
}

// WithPromoteAfter sets the access count a durable-tier entry must
// exceed before it earns a memory copy.
func WithPromoteAfter(count int64) Option {
	return func(cfg *config.Config) error {
		cfg.PromoteAfter = count
		return nil
	}
}

// WithDefaultTTL sets the expiration applied when a set carries no
// explicit TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.DefaultTTL = ttl
		return nil
	}
}

// WithCleanupInterval sets the period of the background expiration
// sweep.
func WithCleanupInterval(interval time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.CleanupInterval = interval
		return nil
	}
}

// WithNamespace prefixes every key the durable tier writes, isolating
// multiple engines sharing one Redis.
func WithNamespace(ns string) Option {
	return func(cfg *config.Config) error {
		cfg.Namespace = ns
		return nil
	}
}

// WithSeedOnStart controls whether construction warms the memory tier
// from the durable tier.
func WithSeedOnStart(seed bool) Option {
	return func(cfg *config.Config) error {
		cfg.SeedOnStart = seed
		return nil
	}
}

// WithSerializer selects the storage-boundary codec: "json" or "gob".
func WithSerializer(serializer string) Option {
	return func(cfg *config.Config) error {
		switch serializer {
		case serialization.JSONType:
			cfg.Serialization.Type = serialization.JSONType
			cfg.Serialization.Encoder = serialization.JSONEncoder
			cfg.Serialization.Decoder = serialization.JSONDecoder
		case serialization.GobType:
			cfg.Serialization.Type = serialization.GobType
			cfg.Serialization.Encoder = serialization.GobEncoder
			cfg.Serialization.Decoder = serialization.GobDecoder
		default:
			return fmt.Errorf("unsupported serialization type: %s", serializer)
		}
		return nil
	}
}

// WithRetry tunes the backoff applied to durable-tier writes before a
// failure is swallowed.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Retry.MaxAttempts = maxAttempts
		cfg.Retry.BaseDelay = baseDelay
		cfg.Retry.MaxDelay = maxDelay
		return nil
	}
}

// WithBreaker overrides the circuit breaker settings guarding the
// durable tier.
func WithBreaker(settings gobreaker.Settings) Option {
	return func(cfg *config.Config) error {
		cfg.Breaker = settings
		return nil
	}
}

// WithBloomFilter sizes the negative-lookup filter in front of the
// durable tier.
func WithBloomFilter(expectedItems uint, falsePositiveRate float64) Option {
	return func(cfg *config.Config) error {
		cfg.Bloom.ExpectedItems = expectedItems
		cfg.Bloom.FalsePositiveRate = falsePositiveRate
		return nil
	}
}

// Snapshot is the engine's point-in-time statistics view.
type Snapshot = models.Snapshot

// Hearth is the public handle to the caching engine.
type Hearth struct {
	cache  *tiered.Cache
	logger *zap.Logger
}

// New builds the engine on top of the given Redis connection. An
// unreachable Redis is not fatal: the engine starts in degraded,
// memory-only mode and recovers when Redis comes back.
func New(ctx context.Context, redisOptions *redis.Options, opts ...Option) (*Hearth, error) {
	cfg := config.New()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}

	client := redis.NewClient(redisOptions)
	store := durable.New(client, cfg, cfg.Logger)
	if err := store.Ping(ctx); err != nil {
		cfg.Logger.Warn("redis unreachable, starting in memory-only mode",
			zap.String("addr", redisOptions.Addr),
			zap.Error(err))
	}

	cache, err := tiered.New(ctx, cfg, store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	return &Hearth{
		cache:  cache,
		logger: cfg.Logger,
	}, nil
}

// Set stores value under key with the default type category. The TTL
// is optional; omitted or non-positive means the configured default.
func (h *Hearth) Set(ctx context.Context, key string, value any, ttl ...time.Duration) error {
	return h.cache.Set(ctx, key, value, ttl...)
}

// SetTyped stores value under key tagged with an explicit type
// category, queryable later via KeysByType.
func (h *Hearth) SetTyped(ctx context.Context, key string, value any, typ string, ttl ...time.Duration) error {
	return h.cache.SetTyped(ctx, key, value, typ, ttl...)
}

// Get retrieves the value stored under key into value, which must be a
// pointer. The boolean reports whether the key was found.
func (h *Hearth) Get(ctx context.Context, key string, value any) (bool, error) {
	return h.cache.Get(ctx, key, value)
}

// Has reports whether key resolves to an unexpired entry.
func (h *Hearth) Has(ctx context.Context, key string) bool {
	return h.cache.Has(ctx, key)
}

// Delete removes key from both tiers. Deleting an absent key is a
// no-op.
func (h *Hearth) Delete(ctx context.Context, key string) error {
	return h.cache.Delete(ctx, key)
}

// Clear empties both tiers and resets hit-rate accounting.
func (h *Hearth) Clear(ctx context.Context) error {
	return h.cache.Clear(ctx)
}

// Stats returns the most recent statistics snapshot. It never blocks.
func (h *Hearth) Stats() Snapshot {
	return h.cache.Stats()
}

// Keys lists every known key across both tiers, sorted.
func (h *Hearth) Keys() []string {
	return h.cache.Keys()
}

// KeysByType lists the keys stored under one type category.
func (h *Hearth) KeysByType(ctx context.Context, typ string) []string {
	return h.cache.KeysByType(ctx, typ)
}

// EstimateSize reports the encoded size of value under the configured
// codec, without storing anything.
func (h *Hearth) EstimateSize(value any) int64 {
	return h.cache.EstimateSize(value)
}

// ExportSnapshot serializes both tiers and the current stats into a
// JSON document for diagnostics.
func (h *Hearth) ExportSnapshot(ctx context.Context) (string, error) {
	return h.cache.ExportSnapshot(ctx)
}

// GenerateKey builds a canonical cache key from a prefix and its
// parts.
func GenerateKey(prefix string, parts ...string) string {
	return tiered.GenerateKey(prefix, parts...)
}

// Close stops the background sweep and releases the Redis connection.
func (h *Hearth) Close() error {
	return h.cache.Close()
}
