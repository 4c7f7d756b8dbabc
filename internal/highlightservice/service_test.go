package highlightservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/models"
	"github.com/starford/marker/internal/testutil"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []string
	pages   []string
}

func (n *recordingNotifier) PublishHighlightCreated(key string, rec models.HighlightRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, key+"#"+rec.ID)
}

func (n *recordingNotifier) PublishPageEvent(kind, key string, records int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pages = append(n.pages, fmt.Sprintf("%s:%s:%d", kind, key, records))
}

func newTestService(t *testing.T) (*Service, *recordingNotifier) {
	t.Helper()
	_, store := testutil.TestStore(t)
	db := testutil.TestDB(t)
	n := &recordingNotifier{}
	return NewService(store, db, WithNotifier(n)), n
}

func rec(markup string, start, end int) models.HighlightRecord {
	return models.HighlightRecord{
		Markup:   markup,
		Position: models.PositionDescriptor{StartNodeIndex: 0, StartOffset: start, EndNodeIndex: 0, EndOffset: end},
	}
}

func TestAppendAssignsIDsAndOrder(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()
	const key = "https://example.com/a"

	first, err := svc.Append(ctx, key, []models.HighlightRecord{rec("Hello", 0, 5)})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first[0].ID == "" || first[0].CreatedAt.IsZero() || first[0].Text != "Hello" {
		t.Errorf("first = %+v", first[0])
	}
	if _, err := svc.Append(ctx, key, []models.HighlightRecord{rec("world", 6, 11)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := svc.FetchHistorical(ctx, key)
	if err != nil {
		t.Fatalf("FetchHistorical: %v", err)
	}
	if len(got) != 2 || got[0].Markup != "Hello" || got[1].Markup != "world" {
		t.Errorf("records = %+v", got)
	}
	if len(n.created) != 2 {
		t.Errorf("notifications = %d, want 2", len(n.created))
	}
}

func TestAppendIsIdempotentByID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	r := rec("x", 0, 1)
	r.ID = "fixed-id"

	if _, err := svc.Append(ctx, "k", []models.HighlightRecord{r}); err != nil {
		t.Fatal(err)
	}
	again, err := svc.Append(ctx, "k", []models.HighlightRecord{r})
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 || again[0].ID != "fixed-id" {
		t.Errorf("again = %+v", again)
	}
	got, _ := svc.FetchHistorical(ctx, "k")
	if len(got) != 1 {
		t.Errorf("stored = %d, want 1", len(got))
	}
}

func TestAppendSanitizesMarkup(t *testing.T) {
	svc, _ := newTestService(t)
	out, err := svc.Append(context.Background(), "k",
		[]models.HighlightRecord{rec(`lo <b onclick="x()">big</b><script>alert(1)</script>`, 0, 3)})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out[0].Markup, "script") || strings.Contains(out[0].Markup, "onclick") {
		t.Errorf("markup not sanitized: %q", out[0].Markup)
	}
	if !strings.Contains(out[0].Markup, "<b>big</b>") {
		t.Errorf("markup lost formatting: %q", out[0].Markup)
	}
	if out[0].Text != "lo big" {
		t.Errorf("text = %q, want %q", out[0].Text, "lo big")
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bad := rec("x", 5, 1)
	if _, err := svc.Append(ctx, "k", []models.HighlightRecord{bad}); !errors.Is(err, apperr.ErrInvalidMessage) {
		t.Errorf("backward err = %v", err)
	}
	if _, err := svc.Append(ctx, " ", []models.HighlightRecord{rec("x", 0, 1)}); !errors.Is(err, apperr.ErrInvalidMessage) {
		t.Errorf("empty key err = %v", err)
	}
	got, _ := svc.FetchHistorical(ctx, "k")
	if len(got) != 0 {
		t.Errorf("invalid records were stored: %+v", got)
	}
}

func TestConcurrentAppendsKeepAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Append(ctx, "k", []models.HighlightRecord{rec("x", i, i+1)}); err != nil {
				t.Errorf("Append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	got, _ := svc.FetchHistorical(ctx, "k")
	if len(got) != 10 {
		t.Errorf("stored = %d, want 10", len(got))
	}
}

func TestAppendAfterRejectsStaleBase(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()

	first, err := svc.AppendAfter(ctx, "k", 0, []models.HighlightRecord{rec("a", 0, 1)})
	if err != nil {
		t.Fatalf("AppendAfter base 0: %v", err)
	}
	_, err = svc.AppendAfter(ctx, "k", 0, []models.HighlightRecord{rec("b", 1, 2)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale base err = %v, want ErrConflict", err)
	}
	if got, _ := svc.FetchHistorical(ctx, "k"); len(got) != 1 {
		t.Errorf("stored = %d after conflict, want 1", len(got))
	}

	// A retried request whose records are already stored is not a conflict.
	again, err := svc.AppendAfter(ctx, "k", 0, first)
	if err != nil || len(again) != 1 || again[0].ID != first[0].ID {
		t.Errorf("retry = %+v, %v", again, err)
	}

	if _, err := svc.AppendAfter(ctx, "k", 1, []models.HighlightRecord{rec("b", 1, 2)}); err != nil {
		t.Fatalf("AppendAfter base 1: %v", err)
	}
	want := []string{"created:k:1", "updated:k:2"}
	if fmt.Sprint(n.pages) != fmt.Sprint(want) {
		t.Errorf("page events = %v, want %v", n.pages, want)
	}
}

func TestConcurrentAppendAfterOneWinnerPerBase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AppendAfter(ctx, "k", 0, []models.HighlightRecord{rec("x", i, i+1)})
			if errors.Is(err, apperr.ErrConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("AppendAfter %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if conflicts != 5 {
		t.Errorf("conflicts = %d, want 5", conflicts)
	}
	if got, _ := svc.FetchHistorical(ctx, "k"); len(got) != 1 {
		t.Errorf("stored = %d, want 1", len(got))
	}
}

func TestFetchUnknownPageIsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	got, err := svc.FetchHistorical(context.Background(), "https://never.test/")
	if err != nil {
		t.Fatalf("FetchHistorical: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records", len(got))
	}
}

func TestRecordsAndIndex(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Records(ctx, "k"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing page err = %v, want ErrNotFound", err)
	}
	_, _ = svc.Append(ctx, "k", []models.HighlightRecord{rec("needle in text", 0, 14)})

	page, err := svc.Records(ctx, "k")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if page.Checksum == "" || len(page.Records) != 1 {
		t.Errorf("page = %+v", page)
	}

	pages, total, err := svc.ListPages(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	if total != 1 || pages[0].Checksum != page.Checksum || pages[0].Count != 1 {
		t.Errorf("pages = %+v, want checksum %s", pages, page.Checksum)
	}

	hits, err := svc.Search(ctx, "needle", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].PageKey != "k" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestExportMarkdown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Append(ctx, "https://example.com/a", []models.HighlightRecord{rec("lo <b>big</b> wo", 0, 3)})

	md, err := svc.Export(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(md, "# https://example.com/a") {
		t.Errorf("missing heading:\n%s", md)
	}
	if !strings.Contains(md, "> lo **big** wo") {
		t.Errorf("missing quote:\n%s", md)
	}
}
