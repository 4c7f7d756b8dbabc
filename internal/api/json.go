package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/dom"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, dom.ErrQuoteNotFound),
		errors.Is(err, dom.ErrNoBody),
		errors.Is(err, apperr.ErrAddressing),
		errors.Is(err, apperr.ErrUnsupportedRangeShape):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError logs server-side failures and writes a JSON error body.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}
