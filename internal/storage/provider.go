// Package storage persists each page's highlight records.
package storage

import (
	"context"

	"github.com/starford/marker/internal/models"
)

// Provider is the highlight store keyed by page identity. Keys are compared
// as exact strings; no URL normalization is applied.
type Provider interface {
	// Load returns the records saved for key in insertion order, or an
	// empty slice when the page has none.
	Load(ctx context.Context, key string) ([]models.HighlightRecord, error)
	// Save replaces the record list stored for key.
	Save(ctx context.Context, key string, records []models.HighlightRecord) error
	// Page summarizes the stored file for key, or wraps apperr.ErrNotFound
	// when nothing has been saved for it.
	Page(ctx context.Context, key string) (models.PageSummary, error)
	// Pages returns a summary of every stored page.
	Pages(ctx context.Context) ([]models.PageSummary, error)
}
