// Package agent runs in the page context: it re-applies a page's saved
// highlights when the page loads and turns new selections into persisted,
// painted highlights.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/dom"
	"github.com/starford/marker/internal/models"
	"github.com/starford/marker/internal/paint"
	"github.com/starford/marker/internal/rangecodec"
)

// Channel carries the two page-context messages to the privileged side.
// ReportHighlights must fail with an error matching apperr.ErrConflict when
// base is not negative and differs from the stored record count.
type Channel interface {
	FetchHistorical(ctx context.Context, pageKey string) ([]models.HighlightRecord, error)
	ReportHighlights(ctx context.Context, pageKey string, base int, records []models.HighlightRecord) ([]models.HighlightRecord, error)
}

// DefaultConflictRetries bounds how often one range is re-encoded after
// other writers moved the page on.
const DefaultConflictRetries = 16

// Option configures an Agent.
type Option func(*Agent)

// WithPainter sets the painter used for highlights.
func WithPainter(p *paint.Painter) Option {
	return func(a *Agent) {
		if p != nil {
			a.painter = p
		}
	}
}

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithConflictRetries sets how often a range is retried after a conflict.
func WithConflictRetries(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.retries = n
		}
	}
}

// Agent is the page-side controller. It holds no document state; every call
// receives the document or Page it works on.
type Agent struct {
	ch      Channel
	painter *paint.Painter
	logger  *slog.Logger
	now     func() time.Time
	retries int
}

// Page is a document bound to its page key. It tracks how many records of
// the page's saved list its tree reflects, in order.
type Page struct {
	Key string
	Doc *dom.Document

	seen int
}

// NewPage binds doc to key. The tree is taken to reflect no saved records,
// which is right for a pristine document of a page with none.
func NewPage(doc *dom.Document, key string) *Page {
	return &Page{Key: key, Doc: doc}
}

// Seen returns the number of saved records the tree reflects.
func (p *Page) Seen() int { return p.seen }

// New creates an Agent talking over ch.
func New(ch Channel, opts ...Option) *Agent {
	a := &Agent{
		ch:      ch,
		painter: paint.New(),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		retries: DefaultConflictRetries,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Skipped describes one record recovery could not apply.
type Skipped struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
	err    error
}

// Err returns the underlying failure.
func (s Skipped) Err() error { return s.err }

// Report summarizes a recovery pass.
type Report struct {
	Total   int       `json:"total"`
	Applied int       `json:"applied"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Recover fetches the records saved for pageKey and re-applies them to doc
// one at a time in saved order: each record is decoded against the tree as
// left by the previous paints, then painted, before the next is decoded.
// A record that fails to decode or paint is skipped and logged; it does not
// stop the others. Only a failed fetch is returned as an error, in which
// case doc is untouched.
func (a *Agent) Recover(ctx context.Context, doc *dom.Document, pageKey string) (Report, error) {
	records, err := a.ch.FetchHistorical(ctx, pageKey)
	if err != nil {
		return Report{}, fmt.Errorf("agent: fetch %q: %w", pageKey, err)
	}
	rep := Report{Total: len(records)}
	err = a.replay(ctx, doc, pageKey, records, 0, &rep)
	a.logger.Debug("agent: recovered",
		slog.String("page", pageKey),
		slog.Int("applied", rep.Applied),
		slog.Int("skipped", len(rep.Skipped)))
	return rep, err
}

// Load recovers pageKey's highlights into doc and returns the Page to make
// new highlights on.
func (a *Agent) Load(ctx context.Context, doc *dom.Document, pageKey string) (*Page, Report, error) {
	rep, err := a.Recover(ctx, doc, pageKey)
	if err != nil {
		return nil, rep, err
	}
	return &Page{Key: pageKey, Doc: doc, seen: rep.Total}, rep, nil
}

// replay applies records[from:] in order, recording skips in rep.
func (a *Agent) replay(ctx context.Context, doc *dom.Document, pageKey string, records []models.HighlightRecord, from int, rep *Report) error {
	for i := from; i < len(records); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := records[i]
		if err := a.apply(doc, rec); err != nil {
			a.logger.Warn("agent: record skipped",
				slog.String("page", pageKey),
				slog.Int("index", i),
				slog.String("id", rec.ID),
				slog.String("error", err.Error()))
			rep.Skipped = append(rep.Skipped, Skipped{Index: i, ID: rec.ID, Reason: err.Error(), err: err})
			continue
		}
		rep.Applied++
	}
	return nil
}

// catchUp paints the records other writers appended since p was last in
// step with the saved list.
func (a *Agent) catchUp(ctx context.Context, p *Page) error {
	records, err := a.ch.FetchHistorical(ctx, p.Key)
	if err != nil {
		return fmt.Errorf("agent: fetch %q: %w", p.Key, err)
	}
	if len(records) < p.seen {
		return fmt.Errorf("agent: %q shrank from %d to %d records: %w",
			p.Key, p.seen, len(records), apperr.ErrConflict)
	}
	var rep Report
	if err := a.replay(ctx, p.Doc, p.Key, records, p.seen, &rep); err != nil {
		return err
	}
	a.logger.Debug("agent: caught up",
		slog.String("page", p.Key),
		slog.Int("from", p.seen),
		slog.Int("to", len(records)))
	p.seen = len(records)
	return nil
}

func (a *Agent) apply(doc *dom.Document, rec models.HighlightRecord) error {
	r, err := rangecodec.Decode(doc, rec.Position)
	if err != nil {
		return err
	}
	_, err = a.painter.Paint(doc, r)
	return err
}

// HighlightSelection turns every range of sel into a highlight of p, in
// order. Each range is encoded against the current tree, reported to the
// privileged side, and painted only once the report succeeded, so a range
// is never shown highlighted without a saved record.
//
// The report carries the number of saved records the tree reflects. When
// another writer got there first, the newer records are painted onto the
// tree and the range is encoded again, so every stored descriptor addresses
// the tree that replaying the list in order produces.
//
// Failures are local to their range; the stored records of the ranges that
// succeeded are returned along with the joined failures.
func (a *Agent) HighlightSelection(ctx context.Context, p *Page, sel dom.Selection) ([]models.HighlightRecord, error) {
	// Painting splits text nodes, which would strand range boundaries.
	// Anchors survive splits, so ranges are re-resolved from them.
	anchors := make([]*dom.Anchor, len(sel))
	for i, r := range sel {
		if an, err := p.Doc.AnchorOf(r); err == nil {
			anchors[i] = &an
		}
	}

	var (
		stored []models.HighlightRecord
		errs   []error
	)
	for i, r := range sel {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if i > 0 && anchors[i] != nil {
			resolved, err := p.Doc.Resolve(*anchors[i])
			if err != nil {
				errs = append(errs, fmt.Errorf("agent: range %d: %w", i, err))
				continue
			}
			r = resolved
		}
		if r.Collapsed() {
			continue
		}
		rec, saved, err := a.highlight(ctx, p, r, anchors[i])
		if saved {
			stored = append(stored, rec)
		}
		if err != nil {
			a.logger.Warn("agent: highlight failed",
				slog.String("page", p.Key),
				slog.Int("range", i),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("agent: range %d: %w", i, err))
		}
	}
	return stored, errors.Join(errs...)
}

// highlight reports whether the record was saved alongside any failure; a
// paint failure after a successful save still returns the saved record.
func (a *Agent) highlight(ctx context.Context, p *Page, r dom.Range, an *dom.Anchor) (models.HighlightRecord, bool, error) {
	for attempt := 0; ; attempt++ {
		rec, err := a.describe(p.Doc, r)
		if err != nil {
			return models.HighlightRecord{}, false, err
		}
		saved, err := a.ch.ReportHighlights(ctx, p.Key, p.seen, []models.HighlightRecord{rec})
		if errors.Is(err, apperr.ErrConflict) && an != nil && attempt < a.retries {
			if err := a.catchUp(ctx, p); err != nil {
				return models.HighlightRecord{}, false, err
			}
			if r, err = p.Doc.Resolve(*an); err != nil {
				return models.HighlightRecord{}, false, err
			}
			continue
		}
		if err != nil {
			return models.HighlightRecord{}, false, fmt.Errorf("report: %w", err)
		}
		p.seen++
		if len(saved) == 1 {
			rec = saved[0]
		}

		if _, err := a.painter.Paint(p.Doc, r); err != nil {
			return rec, true, fmt.Errorf("paint: %w", err)
		}
		return rec, true, nil
	}
}

// describe builds the record for r against the current tree.
func (a *Agent) describe(doc *dom.Document, r dom.Range) (models.HighlightRecord, error) {
	pos, err := rangecodec.Encode(doc, r)
	if err != nil {
		return models.HighlightRecord{}, err
	}
	markup, err := r.Markup()
	if err != nil {
		return models.HighlightRecord{}, fmt.Errorf("markup: %w", err)
	}
	text, err := r.Text()
	if err != nil {
		return models.HighlightRecord{}, fmt.Errorf("text: %w", err)
	}
	return models.HighlightRecord{
		Markup:    markup,
		Text:      text,
		Position:  pos,
		CreatedAt: a.now(),
	}, nil
}
