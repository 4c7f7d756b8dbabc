// Package highlightservice is the privileged side: it owns the highlight
// store, keeps the index current and answers page-context messages.
package highlightservice

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/index"
	"github.com/starford/marker/internal/message"
	"github.com/starford/marker/internal/models"
	"github.com/starford/marker/internal/storage"
)

// PageHighlights is the full record list of one page.
type PageHighlights struct {
	Key       string                   `json:"key"`
	Checksum  string                   `json:"checksum"`
	Records   []models.HighlightRecord `json:"records"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Notifier receives change notifications.
type Notifier interface {
	PublishHighlightCreated(pageKey string, rec models.HighlightRecord)
	PublishPageEvent(kind, pageKey string, records int)
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service coordinates storage and index operations.
type Service struct {
	store  storage.Provider
	db     index.HighlightIndex
	notify Notifier
	logger *slog.Logger

	// mu serializes read-modify-write cycles on page record lists.
	mu sync.Mutex

	markup *bluemonday.Policy
	plain  *bluemonday.Policy
	md     *converter.Converter
	now    func() time.Time
}

var _ message.Handler = (*Service)(nil)

// NewService creates a new highlight service.
func NewService(store storage.Provider, db index.HighlightIndex, opts ...Option) *Service {
	s := &Service{
		store:  store,
		db:     db,
		logger: slog.Default(),
		markup: bluemonday.UGCPolicy(),
		plain:  bluemonday.StrictPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchHistorical returns the records saved for pageKey in saved order.
func (s *Service) FetchHistorical(ctx context.Context, pageKey string) ([]models.HighlightRecord, error) {
	return s.store.Load(ctx, pageKey)
}

// Append adds records to the end of pageKey's list and returns them as
// stored, whatever the list currently holds.
func (s *Service) Append(ctx context.Context, pageKey string, records []models.HighlightRecord) ([]models.HighlightRecord, error) {
	return s.AppendAfter(ctx, pageKey, message.AnyBase, records)
}

// AppendAfter adds records to the end of pageKey's list and returns them as
// stored. Records without an ID get a new one; a record whose ID is already
// stored is not added again and the stored copy is returned in its place.
// When base is not negative and the list holds a different number of
// records, nothing is saved and the error wraps apperr.ErrConflict.
func (s *Service) AppendAfter(ctx context.Context, pageKey string, base int, records []models.HighlightRecord) ([]models.HighlightRecord, error) {
	if strings.TrimSpace(pageKey) == "" {
		return nil, fmt.Errorf("highlightservice: %w: empty page key", apperr.ErrInvalidMessage)
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("highlightservice: record %d: %w: %v", i, apperr.ErrInvalidMessage, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Load(ctx, pageKey)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.HighlightRecord, len(existing))
	for _, r := range existing {
		if r.ID != "" {
			byID[r.ID] = r
		}
	}

	out := make([]models.HighlightRecord, 0, len(records))
	var added []models.HighlightRecord
	for _, r := range records {
		if prev, ok := byID[r.ID]; ok && r.ID != "" {
			out = append(out, prev)
			continue
		}
		rec, err := s.prepare(r)
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
		added = append(added, rec)
		out = append(out, rec)
	}
	if len(added) == 0 {
		return out, nil
	}
	if base >= 0 && base != len(existing) {
		return nil, fmt.Errorf("highlightservice: %q holds %d records, caller saw %d: %w",
			pageKey, len(existing), base, apperr.ErrConflict)
	}

	all := append(existing, added...)
	if err := s.store.Save(ctx, pageKey, all); err != nil {
		return nil, err
	}
	s.reindex(ctx, pageKey, all)

	for _, rec := range added {
		s.logger.Debug("highlightservice: appended",
			slog.String("page", pageKey),
			slog.String("id", rec.ID))
		if s.notify != nil {
			s.notify.PublishHighlightCreated(pageKey, rec)
		}
	}
	if s.notify != nil {
		kind := "updated"
		if len(existing) == 0 {
			kind = "created"
		}
		s.notify.PublishPageEvent(kind, pageKey, len(all))
	}
	return out, nil
}

func (s *Service) prepare(r models.HighlightRecord) (models.HighlightRecord, error) {
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return r, fmt.Errorf("highlightservice: new id: %w", err)
		}
		r.ID = id.String()
	}
	r.Markup = s.markup.Sanitize(r.Markup)
	if r.Text == "" {
		r.Text = html.UnescapeString(s.plain.Sanitize(r.Markup))
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	return r, nil
}

// reindex refreshes the index after a save. The store is authoritative, so
// an index failure is logged and left for the watcher or next sync.
func (s *Service) reindex(ctx context.Context, pageKey string, records []models.HighlightRecord) {
	sum, err := s.store.Page(ctx, pageKey)
	if err != nil {
		s.logger.Warn("highlightservice: stat failed", slog.String("page", pageKey), slog.String("error", err.Error()))
		return
	}
	err = s.db.UpsertPage(index.PageRow{
		Key:       pageKey,
		File:      storage.FileName(pageKey),
		Checksum:  sum.Checksum,
		UpdatedAt: sum.UpdatedAt,
	}, records)
	if err != nil {
		s.logger.Warn("highlightservice: index failed", slog.String("page", pageKey), slog.String("error", err.Error()))
	}
}

// Records returns every record of pageKey with the store checksum.
func (s *Service) Records(ctx context.Context, pageKey string) (*PageHighlights, error) {
	sum, err := s.store.Page(ctx, pageKey)
	if err != nil {
		return nil, err
	}
	records, err := s.store.Load(ctx, pageKey)
	if err != nil {
		return nil, err
	}
	return &PageHighlights{
		Key:       pageKey,
		Checksum:  sum.Checksum,
		Records:   nonNilSlice(records),
		UpdatedAt: sum.UpdatedAt,
	}, nil
}

// ListPages returns paginated page summaries from the index.
func (s *Service) ListPages(_ context.Context, limit, offset int) ([]models.PageSummary, int, error) {
	rows, total, err := s.db.ListPages(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]models.PageSummary, len(rows))
	for i, r := range rows {
		items[i] = models.PageSummary{
			Key:       r.Key,
			Checksum:  r.Checksum,
			Count:     r.Count,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Export renders a page's highlights as markdown, one quote per record.
func (s *Service) Export(ctx context.Context, pageKey string) (string, error) {
	page, err := s.Records(ctx, pageKey)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(pageKey))
	for _, r := range page.Records {
		fmt.Fprintf(&b, "<blockquote>%s</blockquote>", r.Markup)
		fmt.Fprintf(&b, "<p><em>%s</em></p>", r.CreatedAt.Format(time.RFC3339))
	}
	md, err := s.md.ConvertString(b.String(), converter.WithDomain(pageKey))
	if err != nil {
		return "", fmt.Errorf("highlightservice: export %q: %w", pageKey, err)
	}
	return strings.TrimSpace(md) + "\n", nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
