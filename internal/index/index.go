package index

import "github.com/starford/marker/internal/models"

// HighlightIndex defines the interface for highlight indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type HighlightIndex interface {
	UpsertPage(p PageRow, records []models.HighlightRecord) error
	DeletePage(key string) error
	DeleteFile(file string) (string, error)
	GetChecksum(key string) (string, error)
	ListPages(limit, offset int) ([]PageRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies HighlightIndex at compile time.
var _ HighlightIndex = (*DB)(nil)
