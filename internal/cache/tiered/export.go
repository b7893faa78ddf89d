package tiered

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"goflare.io/hearth/internal/models"
)

// exportedEntry is the flattened form of one entry in an export
// document. Data is base64 in the JSON output.
type exportedEntry struct {
	Key            string          `json:"key"`
	Data           []byte          `json:"data"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	AccessCount    int64           `json:"access_count"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	Metadata       models.Metadata `json:"metadata"`
}

// exportDocument is the operator-facing dump of both tiers plus the
// current statistics.
type exportDocument struct {
	ExportedAt time.Time       `json:"exported_at"`
	Stats      models.Snapshot `json:"stats"`
	Memory     []exportedEntry `json:"memory"`
	Durable    []exportedEntry `json:"durable"`
}

// ExportSnapshot serializes both tiers and the current stats into a
// JSON document for operator tooling. It is diagnostic output, not a
// restore format. A failing durable tier yields a memory-only export.
func (c *Cache) ExportSnapshot(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "hearth.ExportSnapshot")
	defer span.End()

	doc := exportDocument{
		ExportedAt: time.Now(),
		Stats:      c.Stats(),
		Memory:     exportEntries(c.memory.Entries()),
	}

	durableEntries, err := c.durable.All(ctx)
	if err != nil {
		c.metrics.DurableErrors.Inc()
		c.logger.Warn("export proceeding without durable tier", zap.Error(err))
	}
	doc.Durable = exportEntries(durableEntries)

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export document: %w", err)
	}
	return string(raw), nil
}

func exportEntries(entries []*models.Entry) []exportedEntry {
	out := make([]exportedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, exportedEntry{
			Key:            e.Key,
			Data:           e.Data,
			CreatedAt:      e.CreatedAt,
			ExpiresAt:      e.ExpiresAt,
			AccessCount:    e.AccessCount.Load(),
			LastAccessedAt: e.LastAccessedAt.Load(),
			Metadata:       e.Metadata,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
