package hearth

import "goflare.io/hearth/internal/models"

// Sentinel errors surfaced by the engine. Callers match them with
// errors.Is.
var (
	ErrKeyNotFound        = models.ErrKeyNotFound
	ErrDurableUnavailable = models.ErrDurableUnavailable
	ErrSerialization      = models.ErrSerialization
)
