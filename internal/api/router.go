package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marker/internal/highlightservice"
	"github.com/starford/marker/internal/paint"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// painter styles highlights applied by /render and /highlight.
func NewRouter(svc *highlightservice.Service, authEnabled bool, token string, sseHandler http.Handler, painter *paint.Painter) chi.Router {
	h := NewHandler(svc, painter)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Page-context message envelope.
	r.Post("/messages", h.Messages)

	// Stored highlights.
	r.Get("/pages", h.ListPages)
	r.Get("/pages/highlights", h.PageHighlights)
	r.Get("/pages/export", h.ExportPage)

	// Search.
	r.Get("/search", h.Search)

	// Server-side page agent.
	r.Post("/render", h.Render)
	r.Post("/highlight", h.Highlight)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
