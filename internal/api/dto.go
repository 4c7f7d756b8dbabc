package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marker/internal/agent"
	"github.com/starford/marker/internal/highlightservice"
	"github.com/starford/marker/internal/models"
)

// PageHighlights is the full highlight list of one page (aliased from the domain layer).
type PageHighlights = highlightservice.PageHighlights

// PageListResponse wraps paginated page listings.
type PageListResponse struct {
	Pages []models.PageSummary `json:"pages" validate:"required"`
	Total int                  `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	PageKey     string `json:"page_key" example:"https://example.com/article" validate:"required"`
	HighlightID string `json:"highlight_id" validate:"required"`
	Snippet     string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// RenderRequest is the request body for re-applying saved highlights.
type RenderRequest struct {
	PageKey string `json:"page_key" example:"https://example.com/article" validate:"required"`
	HTML    string `json:"html" validate:"required"`
}

// RenderResponse carries the highlighted document and what was applied.
type RenderResponse struct {
	HTML   string       `json:"html"`
	Report agent.Report `json:"report"`
}

// HighlightRequest selects a quote in a document and highlights it.
type HighlightRequest struct {
	PageKey    string `json:"page_key" example:"https://example.com/article" validate:"required"`
	HTML       string `json:"html" validate:"required"`
	Quote      string `json:"quote" example:"brown fox" validate:"required"`
	Occurrence int    `json:"occurrence" example:"0"`
}

// HighlightResponse carries the stored records and the highlighted document.
type HighlightResponse struct {
	Records []models.HighlightRecord `json:"records"`
	HTML    string                   `json:"html"`
}

// Validate checks required fields.
func (r RenderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PageKey, validation.Required),
		validation.Field(&r.HTML, validation.Required),
	)
}

// Validate checks required fields.
func (r HighlightRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PageKey, validation.Required),
		validation.Field(&r.HTML, validation.Required),
		validation.Field(&r.Quote, validation.Required),
		validation.Field(&r.Occurrence, validation.Min(0)),
	)
}
