// Package sse streams highlight and page changes to browsers as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/starford/marker/internal/models"
)

// Event types sent to clients.
const (
	TypeHighlightCreated = "highlight.created"
	TypePageCreated      = "page.created"
	TypePageUpdated      = "page.updated"
	TypePageDeleted      = "page.deleted"
	TypePagesUpdated     = "pages.updated"
)

const (
	subscriberBuffer  = 64
	defaultHeartbeat  = 25 * time.Second
	defaultListWindow = 2 * time.Second
)

// Event is one message for subscribers. PageKey routes it to subscribers
// watching that page; an empty PageKey reaches only unfiltered ones.
type Event struct {
	Type    string `json:"type"`
	PageKey string `json:"-"`
	Data    any    `json:"data"`
}

// PageChange is the payload of the page.* events.
type PageChange struct {
	PageKey string `json:"page_key"`
	Records int    `json:"records"`
}

// HighlightCreated is the payload of highlight.created.
type HighlightCreated struct {
	PageKey string                 `json:"page_key"`
	Record  models.HighlightRecord `json:"record"`
}

// Subscriber receives framed events. A subscriber with a page only sees
// events about that page.
type Subscriber struct {
	page string
	ch   chan []byte
}

// Events yields framed events until the subscriber is removed or the
// broker closes.
func (s *Subscriber) Events() <-chan []byte { return s.ch }

func (s *Subscriber) wants(e Event) bool {
	return s.page == "" || s.page == e.PageKey
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle streams get a comment line.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithLogger sets the broker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker fans events out to subscribers. Sends never block: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Broker struct {
	listWindow time.Duration
	heartbeat  time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	seq      uint64
	lastList time.Time
	dropped  uint64
	closed   bool
}

// NewBroker creates a broker that sends pages.updated at most once per
// listWindow.
func NewBroker(listWindow time.Duration, opts ...Option) *Broker {
	if listWindow <= 0 {
		listWindow = defaultListWindow
	}
	b := &Broker{
		listWindow: listWindow,
		heartbeat:  defaultHeartbeat,
		logger:     slog.Default(),
		subs:       make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for page, or for everything when page
// is empty. After Close the returned subscriber's channel is already
// closed.
func (b *Broker) Subscribe(page string) *Subscriber {
	s := &Subscriber{page: page, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel.
func (b *Broker) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// ClientCount returns the number of subscribers.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *Broker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber. Publishing afterwards is a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

// Publish sends e to every subscriber that wants it.
func (b *Broker) Publish(e Event) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		b.logger.Warn("sse: encode event", slog.String("type", e.Type), slog.String("error", err.Error()))
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendLocked(e, payload)
}

func (b *Broker) sendLocked(e Event, payload []byte) {
	if b.closed {
		return
	}
	b.seq++
	frame := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", b.seq, e.Type, payload))
	for s := range b.subs {
		if !s.wants(e) {
			continue
		}
		select {
		case s.ch <- frame:
		default:
			b.dropped++
		}
	}
}

// PublishPageEvent announces that key's record list changed to records
// entries, then a pages.updated for list views unless one went out within
// the list window. kind is one of "created", "updated", "deleted".
func (b *Broker) PublishPageEvent(kind, key string, records int) {
	var typ string
	switch kind {
	case "created":
		typ = TypePageCreated
	case "updated":
		typ = TypePageUpdated
	case "deleted":
		typ = TypePageDeleted
	default:
		return
	}
	payload, _ := json.Marshal(PageChange{PageKey: key, Records: records})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendLocked(Event{Type: typ, PageKey: key}, payload)
	if now := time.Now(); now.Sub(b.lastList) >= b.listWindow {
		b.lastList = now
		b.sendLocked(Event{Type: TypePagesUpdated}, []byte("{}"))
	}
}

// PublishHighlightCreated announces a newly appended record.
func (b *Broker) PublishHighlightCreated(key string, rec models.HighlightRecord) {
	b.Publish(Event{
		Type:    TypeHighlightCreated,
		PageKey: key,
		Data:    HighlightCreated{PageKey: key, Record: rec},
	})
}

// ServeHTTP is the SSE endpoint (GET /api/events). The optional page query
// parameter limits the stream to one page.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := b.Subscribe(r.URL.Query().Get("page"))
	defer b.Unsubscribe(sub)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case frame, ok := <-sub.Events():
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
