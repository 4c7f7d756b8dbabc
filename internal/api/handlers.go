package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/marker/internal/agent"
	"github.com/starford/marker/internal/checksum"
	"github.com/starford/marker/internal/dom"
	"github.com/starford/marker/internal/highlightservice"
	"github.com/starford/marker/internal/message"
	"github.com/starford/marker/internal/paint"
)

const maxBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc   *highlightservice.Service
	agent *agent.Agent
}

// NewHandler creates a new Handler. The server-side agent talks to svc
// through an in-process channel.
func NewHandler(svc *highlightservice.Service, painter *paint.Painter) *Handler {
	return &Handler{
		svc:   svc,
		agent: agent.New(message.NewLocal(svc), agent.WithPainter(painter)),
	}
}

// Messages handles POST /api/messages.
//
//	@Summary		Exchange a page-context message envelope
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		message.Envelope	true	"Request envelope"
//	@Success		200		{object}	message.Envelope
//	@Failure		400		{object}	message.Envelope
//	@Failure		409		{object}	message.Envelope
//	@Security		BearerAuth
//	@Router			/messages [post]
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "", err)
		return
	}
	req, err := message.DecodeRequest(body)
	if err != nil {
		var env message.Envelope
		_ = json.Unmarshal(body, &env)
		writeEnvelopeError(w, http.StatusBadRequest, env.Type, err)
		return
	}
	resp, err := message.Dispatch(r.Context(), h.svc, req)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			slog.Error("message failed", slog.String("type", string(req.Kind())), slog.String("error", err.Error()))
		}
		writeEnvelopeError(w, status, req.Kind(), err)
		return
	}
	data, err := message.EncodeResponse(resp)
	if err != nil {
		writeEnvelopeError(w, http.StatusInternalServerError, req.Kind(), err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeEnvelopeError(w http.ResponseWriter, status int, kind message.Kind, err error) {
	data, _ := message.EncodeError(kind, err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// ListPages handles GET /api/pages.
//
//	@Summary		List pages with stored highlights
//	@Tags			pages
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListPages(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "list pages", err)
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{Pages: items, Total: total})
}

// PageHighlights handles GET /api/pages/highlights?key=.
//
//	@Summary		Get every highlight stored for a page
//	@Tags			pages
//	@Produce		json
//	@Param			key				query		string	true	"Page key"
//	@Param			If-None-Match	header		string	false	"Checksum from a previous response"
//	@Success		200				{object}	PageHighlights
//	@Success		304				"Not modified"
//	@Failure		404				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/highlights [get]
func (h *Handler) PageHighlights(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'key' is required"))
		return
	}
	page, err := h.svc.Records(r.Context(), key)
	if err != nil {
		writeError(w, "get highlights", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(page.Checksum))
	if checksum.MatchETag(r.Header.Get("If-None-Match"), page.Checksum) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ExportPage handles GET /api/pages/export?key=.
//
//	@Summary		Export a page's highlights as markdown
//	@Tags			pages
//	@Produce		text/markdown
//	@Param			key	query		string	true	"Page key"
//	@Success		200	{string}	string
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/export [get]
func (h *Handler) ExportPage(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'key' is required"))
		return
	}
	md, err := h.svc.Export(r.Context(), key)
	if err != nil {
		writeError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, md)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across highlights
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult{PageKey: res.PageKey, HighlightID: res.HighlightID, Snippet: res.Snippet}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: out})
}

// Render handles POST /api/render.
//
//	@Summary		Re-apply a page's saved highlights to its HTML
//	@Tags			agent
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenderRequest	true	"Page key and document"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render [post]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := dom.ParseString(req.HTML)
	if err != nil {
		writeError(w, "render", err)
		return
	}
	rep, err := h.agent.Recover(r.Context(), doc, req.PageKey)
	if err != nil {
		writeError(w, "render", err)
		return
	}
	writeJSON(w, http.StatusOK, RenderResponse{HTML: doc.String(), Report: rep})
}

// Highlight handles POST /api/highlight.
//
//	@Summary		Select a quote in a document, persist it and highlight it
//	@Tags			agent
//	@Accept			json
//	@Produce		json
//	@Param			body	body		HighlightRequest	true	"Page key, document and quote"
//	@Success		201		{object}	HighlightResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/highlight [post]
func (h *Handler) Highlight(w http.ResponseWriter, r *http.Request) {
	var req HighlightRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := dom.ParseString(req.HTML)
	if err != nil {
		writeError(w, "highlight", err)
		return
	}
	// Saved highlights go first so the new descriptor addresses the tree
	// the page will have on its next load.
	p, _, err := h.agent.Load(r.Context(), doc, req.PageKey)
	if err != nil {
		writeError(w, "highlight", err)
		return
	}
	rng, err := doc.FindText(req.Quote, req.Occurrence)
	if err != nil {
		writeError(w, "highlight", err)
		return
	}
	records, err := h.agent.HighlightSelection(r.Context(), p, dom.Selection{rng})
	if err != nil && len(records) == 0 {
		writeError(w, "highlight", err)
		return
	}
	if err != nil {
		slog.Warn("highlight partially applied", slog.String("page", req.PageKey), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusCreated, HighlightResponse{Records: records, HTML: doc.String()})
}

type validatable interface {
	Validate() error
}

// decodeBody reads a JSON body into v and validates it, writing a 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}
