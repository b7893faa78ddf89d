// Package config holds the engine configuration and its defaults; the
// public package applies functional options on top.
package config

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/hearth/pkg/serialization"
)

const (
	// DefaultMemoryCeiling bounds the total encoded bytes resident in
	// the memory tier.
	DefaultMemoryCeiling = 50 * 1024 * 1024 // 50 MiB

	// DefaultEntryCeiling is the per-entry limit for memory residency
	// and promotion; larger entries live only in the durable tier.
	DefaultEntryCeiling = 1 * 1024 * 1024 // 1 MiB

	// DefaultPromoteAfter is the access count a durable-tier entry must
	// exceed before it is copied into the memory tier.
	DefaultPromoteAfter = 2

	// DefaultTTL applies when a set carries no explicit TTL.
	DefaultTTL = 24 * time.Hour

	// DefaultNamespace prefixes every key the durable tier writes.
	DefaultNamespace = "hearth"

	// DefaultType categorizes entries written without an explicit type.
	DefaultType = "default"
)

// RetryConfig tunes the backoff applied to durable-tier writes before
// a failure is swallowed.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64
}

// BloomConfig sizes the negative-lookup filter in front of the durable
// tier.
type BloomConfig struct {
	ExpectedItems     uint
	FalsePositiveRate float64
}

// SerializationConfig selects the storage-boundary codec.
type SerializationConfig struct {
	Type    string
	Encoder serialization.EncoderFactory
	Decoder serialization.DecoderFactory
}

// Config collects all engine settings.
type Config struct {
	MemoryCeiling int64
	EntryCeiling  int64
	PromoteAfter  int64

	DefaultTTL          time.Duration
	CleanupInterval     time.Duration
	CleanupStartupDelay time.Duration

	Namespace   string
	DefaultType string
	SeedOnStart bool

	Serialization SerializationConfig
	Bloom         BloomConfig
	Breaker       gobreaker.Settings
	Retry         RetryConfig

	Logger *zap.Logger
}

var (
	ErrMemoryCeilingZero = errors.New("memory ceiling must be greater than 0")
	ErrEntryCeilingZero  = errors.New("entry ceiling must be greater than 0")
	ErrDefaultTTLZero    = errors.New("default TTL must be greater than 0")
)

// New returns the default configuration.
func New() *Config {
	return &Config{
		MemoryCeiling: DefaultMemoryCeiling,
		EntryCeiling:  DefaultEntryCeiling,
		PromoteAfter:  DefaultPromoteAfter,

		DefaultTTL:          DefaultTTL,
		CleanupInterval:     time.Hour,
		CleanupStartupDelay: time.Minute,

		Namespace:   DefaultNamespace,
		DefaultType: DefaultType,
		SeedOnStart: true,

		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},
		Bloom: BloomConfig{
			ExpectedItems:     100_000,
			FalsePositiveRate: 0.01,
		},
		Breaker: gobreaker.Settings{
			Name:        "hearth-durable",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Factor:      2,
			Jitter:      0.1,
		},
	}
}

// Validate checks invariants after all options were applied.
func (c *Config) Validate() error {
	if c.MemoryCeiling <= 0 {
		return ErrMemoryCeilingZero
	}
	if c.EntryCeiling <= 0 {
		return ErrEntryCeilingZero
	}
	if c.DefaultTTL <= 0 {
		return ErrDefaultTTLZero
	}
	if c.EntryCeiling > c.MemoryCeiling {
		c.EntryCeiling = c.MemoryCeiling
	}
	return nil
}

// TTLOrDefault resolves an optional per-call TTL against the default.
func (c *Config) TTLOrDefault(ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	return c.DefaultTTL
}
