package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/highlightservice"
	"github.com/starford/marker/internal/message"
	"github.com/starford/marker/internal/models"
	"github.com/starford/marker/internal/paint"
	"github.com/starford/marker/internal/testutil"
)

const article = `<html><head><title>A</title></head><body><p>The quick brown fox</p><p>jumps over the lazy dog</p></body></html>`

// testEnv sets up a temp store, SQLite DB, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*highlightservice.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*highlightservice.Service, http.Handler) {
	t.Helper()
	_, store := testutil.TestStore(t)
	db := testutil.TestDB(t)
	svc := highlightservice.NewService(store, db)
	painter := paint.New(paint.WithTag("mark"), paint.WithStyle("bg"))
	return svc, NewRouter(svc, authEnabled, token, sseHandler, painter)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func highlight(t *testing.T, router http.Handler, quote string) HighlightResponse {
	t.Helper()
	w := do(t, router, http.MethodPost, "/highlight", HighlightRequest{PageKey: "https://a.test/", HTML: article, Quote: quote})
	if w.Code != http.StatusCreated {
		t.Fatalf("highlight %q status = %d, body = %s", quote, w.Code, w.Body.String())
	}
	var resp HighlightResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHighlightThenRender(t *testing.T) {
	_, router := testEnv(t, "")

	resp := highlight(t, router, "brown fox")
	if len(resp.Records) != 1 || resp.Records[0].ID == "" {
		t.Fatalf("records = %+v", resp.Records)
	}
	if !strings.Contains(resp.HTML, `<mark style="bg">brown fox</mark>`) {
		t.Errorf("html = %s", resp.HTML)
	}

	w := do(t, router, http.MethodPost, "/render", RenderRequest{PageKey: "https://a.test/", HTML: article})
	if w.Code != http.StatusOK {
		t.Fatalf("render status = %d, body = %s", w.Code, w.Body.String())
	}
	var rr RenderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rr); err != nil {
		t.Fatal(err)
	}
	if rr.Report.Applied != 1 || rr.HTML != resp.HTML {
		t.Errorf("render = %+v\nwant html %s", rr, resp.HTML)
	}
}

func TestSequentialHighlightsRecoverTogether(t *testing.T) {
	_, router := testEnv(t, "")

	highlight(t, router, "quick")
	second := highlight(t, router, "brown")
	want := `<p>The <mark style="bg">quick</mark> <mark style="bg">brown</mark> fox</p>`
	if !strings.Contains(second.HTML, want) {
		t.Fatalf("second highlight html = %s", second.HTML)
	}
	if got := second.Records[0].Position.StartNodeIndex; got != 2 {
		t.Errorf("second start node = %d, want 2", got)
	}

	w := do(t, router, http.MethodPost, "/render", RenderRequest{PageKey: "https://a.test/", HTML: article})
	var rr RenderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rr); err != nil {
		t.Fatal(err)
	}
	if rr.Report.Applied != 2 || rr.HTML != second.HTML {
		t.Errorf("render = %+v\nwant html %s", rr, second.HTML)
	}
}

func TestConcurrentHighlightsAllRecover(t *testing.T) {
	_, router := testEnv(t, "")
	const doc = `<html><head></head><body><p>alpha bravo charlie delta echo foxtrot golf hotel</p></body></html>`
	words := strings.Fields("alpha bravo charlie delta echo foxtrot golf hotel")

	var wg sync.WaitGroup
	codes := make([]int, len(words))
	for i, word := range words {
		wg.Add(1)
		go func(i int, word string) {
			defer wg.Done()
			w := do(t, router, http.MethodPost, "/highlight", HighlightRequest{PageKey: "https://c.test/", HTML: doc, Quote: word})
			codes[i] = w.Code
		}(i, word)
	}
	wg.Wait()
	for i, code := range codes {
		if code != http.StatusCreated {
			t.Errorf("highlight %q status = %d", words[i], code)
		}
	}

	w := do(t, router, http.MethodPost, "/render", RenderRequest{PageKey: "https://c.test/", HTML: doc})
	var rr RenderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rr); err != nil {
		t.Fatal(err)
	}
	if rr.Report.Total != len(words) || rr.Report.Applied != len(words) || len(rr.Report.Skipped) != 0 {
		t.Fatalf("report = %+v", rr.Report)
	}
	for _, word := range words {
		if !strings.Contains(rr.HTML, `<mark style="bg">`+word+`</mark>`) {
			t.Errorf("render missing %q: %s", word, rr.HTML)
		}
	}
}

func TestHighlightQuoteNotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/highlight", HighlightRequest{PageKey: "k", HTML: article, Quote: "zebra"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestHighlightValidation(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/highlight", HighlightRequest{HTML: article, Quote: "fox"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing key = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/render", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestRenderUnknownPage(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/render", RenderRequest{PageKey: "https://none.test/", HTML: article})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rr RenderResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rr)
	if rr.Report.Total != 0 || strings.Contains(rr.HTML, "<mark") {
		t.Errorf("render = %+v", rr)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := message.EncodeRequest(message.GetHighlightInfoRequest{
		PageKey: "k",
		Records: []models.HighlightRecord{{
			Markup:   "quick",
			Position: models.PositionDescriptor{StartNodeIndex: 0, StartOffset: 4, EndNodeIndex: 0, EndOffset: 9},
		}},
	})
	w := do(t, router, http.MethodPost, "/messages", body)
	if w.Code != http.StatusOK {
		t.Fatalf("append status = %d, body = %s", w.Code, w.Body.String())
	}

	body, _ = message.EncodeRequest(message.FetchHistoricalRequest{PageKey: "k"})
	w = do(t, router, http.MethodPost, "/messages", body)
	resp, err := message.DecodeResponse(w.Body.Bytes(), message.KindFetchHistorical)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if recs := resp.(message.FetchHistoricalResponse).Records; len(recs) != 1 || recs[0].Markup != "quick" {
		t.Errorf("records = %+v", recs)
	}
}

func TestMessagesStaleBaseConflicts(t *testing.T) {
	svc, router := testEnv(t, "")
	rec := models.HighlightRecord{
		Markup:   "quick",
		Position: models.PositionDescriptor{StartNodeIndex: 0, StartOffset: 4, EndNodeIndex: 0, EndOffset: 9},
	}
	if _, err := svc.Append(context.Background(), "k", []models.HighlightRecord{rec}); err != nil {
		t.Fatal(err)
	}

	body, _ := message.EncodeRequest(message.GetHighlightInfoRequest{
		PageKey: "k",
		Base:    message.BaseOf(0),
		Records: []models.HighlightRecord{rec},
	})
	w := do(t, router, http.MethodPost, "/messages", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", w.Code, w.Body.String())
	}
	_, err := message.DecodeResponse(w.Body.Bytes(), message.KindGetHighlightInfo)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("DecodeResponse err = %v, want ErrConflict", err)
	}
}

func TestMessagesRejectsInvalid(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/messages", []byte(`{"type":"get_highlight_info","payload":{"page_key":"k","records":[{"markup":"x","position":{"start_node_index":3,"start_offset":0,"end_node_index":1,"end_offset":0}}]}}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var env message.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil || env.Error == "" || env.Type != message.KindGetHighlightInfo {
		t.Errorf("envelope = %+v, err = %v", env, err)
	}
}

func TestMessagesOverHTTPClient(t *testing.T) {
	_, router := testEnv(t, "tok")
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", router))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := message.NewClient(srv.URL, message.WithToken("tok"))
	ctx := context.Background()
	stored, err := c.ReportHighlights(ctx, "k", message.AnyBase, []models.HighlightRecord{{
		Markup:   "x",
		Position: models.PositionDescriptor{EndOffset: 1},
	}})
	if err != nil {
		t.Fatalf("ReportHighlights: %v", err)
	}
	got, err := c.FetchHistorical(ctx, "k")
	if err != nil {
		t.Fatalf("FetchHistorical: %v", err)
	}
	if len(got) != 1 || got[0].ID != stored[0].ID {
		t.Errorf("got = %+v", got)
	}
}

func TestPagesAndETag(t *testing.T) {
	_, router := testEnv(t, "")
	highlight(t, router, "quick")

	w := do(t, router, http.MethodGet, "/pages", nil)
	var list PageListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || list.Total != 1 || list.Pages[0].Key != "https://a.test/" {
		t.Fatalf("pages = %d %+v", w.Code, list)
	}

	w = do(t, router, http.MethodGet, "/pages/highlights?key="+"https%3A%2F%2Fa.test%2F", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("highlights status = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/pages/highlights?key=https%3A%2F%2Fa.test%2F", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", w.Code)
	}
}

func TestPageHighlights_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/pages/highlights?key=nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodGet, "/pages/highlights", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing key = %d, want 400", w.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	highlight(t, router, "lazy dog")
	w := do(t, router, http.MethodGet, "/pages/export?key=https%3A%2F%2Fa.test%2F", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown") || !strings.Contains(w.Body.String(), "lazy dog") {
		t.Errorf("export = %q", w.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	highlight(t, router, "jumps over")

	w := do(t, router, http.MethodGet, "/search?q=jumps", nil)
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || len(resp.Results) != 1 || resp.Results[0].PageKey != "https://a.test/" {
		t.Errorf("search = %d %+v", w.Code, resp)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/pages", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context ends.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", blockingSSE)
	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestSSEEvents_NotMountedWithoutHandler(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("events without handler = %d", w.Code)
	}
}
