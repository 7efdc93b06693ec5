package store

import "stl-viewer/models"

// Store is the interface any dataset storage backend must satisfy.
// The dataset is the single unit of persistence: Replace fully
// overwrites prior content, and callers read-modify-write the whole
// dataset — no partial updates.
type Store interface {
	// Load returns the last persisted dataset. An absent or
	// unparseable blob yields an empty dataset, never an error.
	Load() (models.Dataset, error)
	Replace(models.Dataset) error
	Clear() error
	Close() error
}
