package models

import (
	"errors"
	"time"

	"go.uber.org/atomic"
)

// EntryVersion is the current metadata schema version written with
// every new entry.
const EntryVersion = 1

var (
	// ErrKeyNotFound reports that a key has no record in the durable
	// tier. Absence is a normal condition for callers of the
	// coordinator; this sentinel only crosses the tier boundary.
	ErrKeyNotFound = errors.New("key not found in cache")

	// ErrDurableUnavailable reports that the durable tier could not
	// serve an operation. The coordinator degrades to memory-only mode
	// instead of surfacing it to callers.
	ErrDurableUnavailable = errors.New("durable store unavailable")

	// ErrSerialization reports that a payload could not be encoded for
	// storage.
	ErrSerialization = errors.New("failed to serialize payload")
)

// Metadata describes an entry's immutable write-time attributes.
// SizeBytes is measured once from the encoded payload and never
// recomputed: entries are immutable once stored, an update is a new
// entry under the same key.
type Metadata struct {
	SizeBytes int64  `json:"size_bytes"`
	Type      string `json:"type"`
	Version   int    `json:"version"`
}

// Entry is the value wrapper stored in both tiers. Data holds the
// encoded payload; callers always decode into their own value, so the
// cache never hands out a live reference to its storage.
//
// Access bookkeeping uses atomics because reads from the memory tier
// bump counters while holding only the tier's read path.
type Entry struct {
	Key            string
	Data           []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AccessCount    *atomic.Int64
	LastAccessedAt *atomic.Time
	Metadata       Metadata
}

// NewEntry creates an entry expiring at now.Add(ttl). The access count
// starts at zero: only successful reads count as accesses.
func NewEntry(key string, data []byte, now time.Time, ttl time.Duration, typ string) *Entry {
	return &Entry{
		Key:            key,
		Data:           data,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		AccessCount:    atomic.NewInt64(0),
		LastAccessedAt: atomic.NewTime(now),
		Metadata: Metadata{
			SizeBytes: int64(len(data)),
			Type:      typ,
			Version:   EntryVersion,
		},
	}
}

// IsExpired reports whether the entry is logically absent at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Touch records one successful read at now and returns the new access
// count.
func (e *Entry) Touch(now time.Time) int64 {
	e.LastAccessedAt.Store(now)
	return e.AccessCount.Inc()
}
