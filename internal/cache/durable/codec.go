package durable

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/atomic"

	"goflare.io/hearth/internal/models"
)

// Hash field names of a persisted entry record.
const (
	fieldData           = "data"
	fieldCreatedAt      = "created_at"
	fieldExpiresAt      = "expires_at"
	fieldLastAccessedAt = "last_accessed_at"
	fieldAccessCount    = "access_count"
	fieldSizeBytes      = "size_bytes"
	fieldType           = "type"
	fieldVersion        = "version"
)

// entryFields flattens an entry into the hash representation.
// Timestamps are unix milliseconds.
func entryFields(e *models.Entry) map[string]any {
	return map[string]any{
		fieldData:           e.Data,
		fieldCreatedAt:      e.CreatedAt.UnixMilli(),
		fieldExpiresAt:      e.ExpiresAt.UnixMilli(),
		fieldLastAccessedAt: e.LastAccessedAt.Load().UnixMilli(),
		fieldAccessCount:    e.AccessCount.Load(),
		fieldSizeBytes:      e.Metadata.SizeBytes,
		fieldType:           e.Metadata.Type,
		fieldVersion:        e.Metadata.Version,
	}
}

// entryFromHash rebuilds an entry from its hash representation.
func entryFromHash(key string, h map[string]string) (*models.Entry, error) {
	createdAt, err := milliField(h, fieldCreatedAt)
	if err != nil {
		return nil, err
	}
	expiresAt, err := milliField(h, fieldExpiresAt)
	if err != nil {
		return nil, err
	}
	lastAccessedAt, err := milliField(h, fieldLastAccessedAt)
	if err != nil {
		return nil, err
	}
	accessCount, err := intField(h, fieldAccessCount)
	if err != nil {
		return nil, err
	}
	sizeBytes, err := intField(h, fieldSizeBytes)
	if err != nil {
		return nil, err
	}
	version, err := intField(h, fieldVersion)
	if err != nil {
		return nil, err
	}

	return &models.Entry{
		Key:            key,
		Data:           []byte(h[fieldData]),
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
		AccessCount:    atomic.NewInt64(accessCount),
		LastAccessedAt: atomic.NewTime(lastAccessedAt),
		Metadata: models.Metadata{
			SizeBytes: sizeBytes,
			Type:      h[fieldType],
			Version:   int(version),
		},
	}, nil
}

func intField(h map[string]string, field string) (int64, error) {
	raw, ok := h[field]
	if !ok {
		return 0, fmt.Errorf("record missing field %q", field)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record field %q malformed: %w", field, err)
	}
	return n, nil
}

func milliField(h map[string]string, field string) (time.Time, error) {
	n, err := intField(h, field)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n), nil
}
