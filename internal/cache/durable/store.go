// Package durable implements the slower persistent cache tier on
// Redis: one hash per entry, a ZSET secondary index on expiry for
// sweeps, and a SET per type for diagnostic queries.
//
// Every operation fails soft. A circuit breaker isolates a sick Redis,
// writes are retried with backoff first, and callers receive
// models.ErrDurableUnavailable, which the coordinator translates into
// "absent" (reads) or a logged, swallowed degradation (writes).
package durable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/hearth/internal/config"
	"goflare.io/hearth/internal/models"
	"goflare.io/hearth/internal/retrier"
)

// sweepBatch bounds how many expired records one sweep round trip
// removes, so the sweep never turns into a stop-the-world pass.
const sweepBatch = 256

// Store is the durable tier adapter.
type Store struct {
	client    redis.UniversalClient
	ns        string
	breaker   *gobreaker.CircuitBreaker
	retry     *retrier.Retrier
	logger    *zap.Logger
	available *atomic.Bool
}

// New creates a Store over client. The breaker treats redis.Nil as
// success so cache misses never trip it.
func New(client redis.UniversalClient, cfg *config.Config, logger *zap.Logger) *Store {
	settings := cfg.Breaker
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, redis.Nil)
	}

	return &Store{
		client:  client,
		ns:      cfg.Namespace,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retry: retrier.New(
			cfg.Retry.MaxAttempts,
			cfg.Retry.BaseDelay,
			cfg.Retry.MaxDelay,
			cfg.Retry.Factor,
			cfg.Retry.Jitter,
			isTemporary,
		),
		logger:    logger,
		available: atomic.NewBool(true),
	}
}

// isTemporary decides whether a durable-tier error is worth retrying.
// Misses, cancelled contexts and refused connections are not; a down
// Redis answers refusals immediately and the breaker takes over.
func isTemporary(err error) bool {
	switch {
	case errors.Is(err, redis.Nil),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED):
		return false
	}
	return true
}

func (s *Store) entryKey(key string) string {
	return s.ns + ":entry:" + key
}

func (s *Store) expiryIndex() string {
	return s.ns + ":index:expiry"
}

func (s *Store) typeIndex(typ string) string {
	return s.ns + ":index:type:" + typ
}

// read runs fn through the circuit breaker, single-shot.
func (s *Store) read(op string, fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	return s.observe(op, err)
}

// write runs fn through the breaker with retries on temporary errors.
func (s *Store) write(ctx context.Context, op string, fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.retry.Run(ctx, fn)
	})
	return s.observe(op, err)
}

func (s *Store) observe(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		s.available.Store(true)
		return err
	}
	s.available.Store(false)
	s.logger.Warn("durable store operation failed",
		zap.String("op", op),
		zap.Error(err))
	return fmt.Errorf("%w: %s: %w", models.ErrDurableUnavailable, op, err)
}

// Get fetches the record for key as stored, expired or not: TTL
// interpretation belongs to the coordinator. A missing record returns
// models.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) (*models.Entry, error) {
	var h map[string]string
	err := s.read("get", func() error {
		var err error
		h, err = s.client.HGetAll(ctx, s.entryKey(key)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, models.ErrKeyNotFound
	}

	e, err := entryFromHash(key, h)
	if err != nil {
		// Corrupt record: drop it rather than serving garbage.
		s.logger.Error("dropping corrupt durable record",
			zap.String("key", key),
			zap.Error(err))
		_ = s.Delete(ctx, key)
		return nil, models.ErrKeyNotFound
	}
	return e, nil
}

// Put upserts the record and both secondary indexes.
func (s *Store) Put(ctx context.Context, e *models.Entry) error {
	return s.write(ctx, "put", func() error {
		oldType, err := s.client.HGet(ctx, s.entryKey(e.Key), fieldType).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			if oldType != "" && oldType != e.Metadata.Type {
				pipe.SRem(ctx, s.typeIndex(oldType), e.Key)
			}
			pipe.HSet(ctx, s.entryKey(e.Key), entryFields(e))
			pipe.ZAdd(ctx, s.expiryIndex(), redis.Z{
				Score:  float64(e.ExpiresAt.UnixMilli()),
				Member: e.Key,
			})
			pipe.SAdd(ctx, s.typeIndex(e.Metadata.Type), e.Key)
			return nil
		})
		return err
	})
}

// Delete removes the record and its index members. Deleting an absent
// key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.write(ctx, "delete", func() error {
		typ, err := s.client.HGet(ctx, s.entryKey(key), fieldType).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.entryKey(key))
			pipe.ZRem(ctx, s.expiryIndex(), key)
			if typ != "" {
				pipe.SRem(ctx, s.typeIndex(typ), key)
			}
			return nil
		})
		return err
	})
}

// touchScript bumps access bookkeeping only when the record still
// exists; a bare HINCRBY would recreate a deleted key as a stray hash.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
redis.call("HSET", KEYS[1], ARGV[2], ARGV[3])
return 1
`)

// TouchAccess persists one read's access bookkeeping so promotion
// counts survive eviction and restarts. Best effort, single-shot; a
// record deleted since the read is left deleted.
func (s *Store) TouchAccess(ctx context.Context, key string, at time.Time) error {
	return s.read("touch", func() error {
		return touchScript.Run(ctx, s.client, []string{s.entryKey(key)},
			fieldAccessCount, fieldLastAccessedAt, at.UnixMilli()).Err()
	})
}

// SweepExpired deletes all records with expiresAt <= now, walking the
// expiry index instead of scanning the keyspace. It returns the keys
// it removed.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	var swept []string
	maxScore := strconv.FormatInt(now.UnixMilli(), 10)

	for {
		var batch []string
		err := s.write(ctx, "sweep", func() error {
			var err error
			batch, err = s.client.ZRangeByScore(ctx, s.expiryIndex(), &redis.ZRangeBy{
				Min:   "-inf",
				Max:   maxScore,
				Count: sweepBatch,
			}).Result()
			if err != nil || len(batch) == 0 {
				return err
			}
			return s.removeBatch(ctx, batch)
		})
		if err != nil {
			return swept, err
		}
		if len(batch) == 0 {
			return swept, nil
		}
		swept = append(swept, batch...)
		if len(batch) < sweepBatch {
			return swept, nil
		}
	}
}

func (s *Store) removeBatch(ctx context.Context, keys []string) error {
	types := make([]*redis.StringCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			types[i] = pipe.HGet(ctx, s.entryKey(key), fieldType)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	members := make([]any, len(keys))
	for i, key := range keys {
		members[i] = key
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			pipe.Del(ctx, s.entryKey(key))
			if typ, err := types[i].Result(); err == nil && typ != "" {
				pipe.SRem(ctx, s.typeIndex(typ), key)
			}
		}
		pipe.ZRem(ctx, s.expiryIndex(), members...)
		return nil
	})
	return err
}

// All returns every stored record, expired or not. Used to seed the
// memory tier at startup and by the diagnostic export.
func (s *Store) All(ctx context.Context) ([]*models.Entry, error) {
	var keys []string
	err := s.read("all", func() error {
		var err error
		keys, err = s.client.ZRange(ctx, s.expiryIndex(), 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	hashes := make([]*redis.MapStringStringCmd, len(keys))
	err = s.read("all", func() error {
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				hashes[i] = pipe.HGetAll(ctx, s.entryKey(key))
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*models.Entry, 0, len(keys))
	for i, key := range keys {
		h, err := hashes[i].Result()
		if err != nil || len(h) == 0 {
			continue
		}
		e, err := entryFromHash(key, h)
		if err != nil {
			s.logger.Warn("skipping corrupt durable record",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// KeysByType returns the members of one type index.
func (s *Store) KeysByType(ctx context.Context, typ string) ([]string, error) {
	var keys []string
	err := s.read("keys_by_type", func() error {
		var err error
		keys, err = s.client.SMembers(ctx, s.typeIndex(typ)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Clear removes every record and index under the namespace.
func (s *Store) Clear(ctx context.Context) error {
	return s.write(ctx, "clear", func() error {
		keys, err := s.client.ZRange(ctx, s.expiryIndex(), 0, -1).Result()
		if err != nil {
			return err
		}

		_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range keys {
				pipe.Del(ctx, s.entryKey(key))
			}
			pipe.Del(ctx, s.expiryIndex())
			return nil
		})
		if err != nil {
			return err
		}

		// Type indexes are enumerated by SCAN since their names depend
		// on stored types.
		var cursor uint64
		for {
			idxKeys, next, err := s.client.Scan(ctx, cursor, s.ns+":index:type:*", 1000).Result()
			if err != nil {
				return err
			}
			if len(idxKeys) > 0 {
				if err := s.client.Del(ctx, idxKeys...).Err(); err != nil {
					return err
				}
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
}

// Available reports whether the last durable operation succeeded.
func (s *Store) Available() bool {
	return s.available.Load()
}

// Ping probes the connection and records availability.
func (s *Store) Ping(ctx context.Context) error {
	return s.read("ping", func() error {
		return s.client.Ping(ctx).Err()
	})
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
