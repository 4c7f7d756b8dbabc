// Package message defines the two messages exchanged between the page
// context and the privileged side, their JSON envelope and dispatch.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/models"
)

// Kind names a message variant on the wire.
type Kind string

const (
	// KindFetchHistorical asks for every record saved for a page.
	KindFetchHistorical Kind = "fetch_historical_highlight_info"
	// KindGetHighlightInfo reports newly created records for a page.
	KindGetHighlightInfo Kind = "get_highlight_info"
)

// Request is a message sent from the page context.
type Request interface {
	Kind() Kind
	Validate() error
	isRequest()
}

// Response is the privileged side's answer to a Request.
type Response interface {
	Kind() Kind
	isResponse()
}

// FetchHistoricalRequest asks for the records saved under PageKey.
type FetchHistoricalRequest struct {
	PageKey string `json:"page_key"`
}

func (FetchHistoricalRequest) Kind() Kind { return KindFetchHistorical }
func (FetchHistoricalRequest) isRequest() {}

func (r FetchHistoricalRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PageKey, validation.Required),
	)
}

// FetchHistoricalResponse carries a page's records in saved order.
type FetchHistoricalResponse struct {
	Records []models.HighlightRecord `json:"records"`
}

func (FetchHistoricalResponse) Kind() Kind  { return KindFetchHistorical }
func (FetchHistoricalResponse) isResponse() {}

// AnyBase appends without checking the page's current record count.
const AnyBase = -1

// GetHighlightInfoRequest reports records created on a page. The receiver
// appends them to the page's list.
//
// Base is the number of saved records the sender's tree reflects. When set,
// the append is refused with a conflict if the stored list has a different
// length, since the new descriptors would address a tree nobody replays.
type GetHighlightInfoRequest struct {
	PageKey string                   `json:"page_key"`
	Base    *int                     `json:"base,omitempty"`
	Records []models.HighlightRecord `json:"records"`
}

func (GetHighlightInfoRequest) Kind() Kind { return KindGetHighlightInfo }
func (GetHighlightInfoRequest) isRequest() {}

func (r GetHighlightInfoRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PageKey, validation.Required),
		validation.Field(&r.Base, validation.Min(0)),
		validation.Field(&r.Records, validation.Required),
	)
}

// BaseOf returns a Base value for n, or nil for AnyBase.
func BaseOf(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}

// GetHighlightInfoResponse echoes the appended records as stored.
type GetHighlightInfoResponse struct {
	Records []models.HighlightRecord `json:"records"`
}

func (GetHighlightInfoResponse) Kind() Kind  { return KindGetHighlightInfo }
func (GetHighlightInfoResponse) isResponse() {}

// Envelope is the wire form of every message. Code classifies Error so the
// sender can tell a conflict from other failures.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

var errorCodes = []struct {
	code string
	err  error
}{
	{"conflict", apperr.ErrConflict},
	{"not_found", apperr.ErrNotFound},
	{"invalid_message", apperr.ErrInvalidMessage},
	{"persistence", apperr.ErrPersistence},
}

func codeOf(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// RemoteError is a failure reported by the privileged side. It unwraps to
// the sentinel its code names, if any.
type RemoteError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("message: %s failed remotely: %s", e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() error {
	for _, c := range errorCodes {
		if c.code == e.Code {
			return c.err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("message: %w: %s", apperr.ErrInvalidMessage, fmt.Sprintf(format, args...))
}

// EncodeRequest validates r and wraps it in an envelope.
func EncodeRequest(r Request) ([]byte, error) {
	if r == nil {
		return nil, invalid("nil request")
	}
	if err := r.Validate(); err != nil {
		return nil, invalid("%s: %v", r.Kind(), err)
	}
	return encode(r.Kind(), r)
}

// DecodeRequest parses and validates an envelope holding a request.
func DecodeRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalid("decode envelope: %v", err)
	}
	var req Request
	switch env.Type {
	case KindFetchHistorical:
		var r FetchHistoricalRequest
		if err := unmarshalPayload(env, &r); err != nil {
			return nil, err
		}
		req = r
	case KindGetHighlightInfo:
		var r GetHighlightInfoRequest
		if err := unmarshalPayload(env, &r); err != nil {
			return nil, err
		}
		req = r
	default:
		return nil, invalid("unknown type %q", env.Type)
	}
	if err := req.Validate(); err != nil {
		return nil, invalid("%s: %v", env.Type, err)
	}
	return req, nil
}

// EncodeResponse wraps r in an envelope.
func EncodeResponse(r Response) ([]byte, error) {
	if r == nil {
		return nil, invalid("nil response")
	}
	return encode(r.Kind(), r)
}

// EncodeError wraps a handler failure for kind in an envelope.
func EncodeError(kind Kind, err error) ([]byte, error) {
	return json.Marshal(Envelope{Type: kind, Error: err.Error(), Code: codeOf(err)})
}

// DecodeResponse parses an envelope answering a request of kind want. An
// envelope carrying an error is returned as a *RemoteError.
func DecodeResponse(data []byte, want Kind) (Response, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalid("decode envelope: %v", err)
	}
	if env.Type != want {
		return nil, invalid("response type %q, want %q", env.Type, want)
	}
	if env.Error != "" {
		return nil, &RemoteError{Kind: env.Type, Code: env.Code, Message: env.Error}
	}
	switch env.Type {
	case KindFetchHistorical:
		var r FetchHistoricalResponse
		if err := unmarshalPayload(env, &r); err != nil {
			return nil, err
		}
		if err := validateRecords(env.Type, r.Records); err != nil {
			return nil, err
		}
		return r, nil
	case KindGetHighlightInfo:
		var r GetHighlightInfoResponse
		if err := unmarshalPayload(env, &r); err != nil {
			return nil, err
		}
		if err := validateRecords(env.Type, r.Records); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, invalid("unknown type %q", env.Type)
}

func validateRecords(kind Kind, records []models.HighlightRecord) error {
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return invalid("%s: record %d: %v", kind, i, err)
		}
	}
	return nil
}

func encode(kind Kind, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Payload: payload})
}

func unmarshalPayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return invalid("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return invalid("%s: decode payload: %v", env.Type, err)
	}
	return nil
}

// Handler is the privileged side's implementation of both messages.
type Handler interface {
	FetchHistorical(ctx context.Context, pageKey string) ([]models.HighlightRecord, error)
	// AppendAfter appends records to pageKey's list. A non-negative base
	// must equal the stored record count or the append fails with
	// apperr.ErrConflict. Records whose ID is already stored are returned
	// as stored and do not count as a change.
	AppendAfter(ctx context.Context, pageKey string, base int, records []models.HighlightRecord) ([]models.HighlightRecord, error)
}

// Dispatch validates req and routes it to h.
func Dispatch(ctx context.Context, h Handler, req Request) (Response, error) {
	if req == nil {
		return nil, invalid("nil request")
	}
	if err := req.Validate(); err != nil {
		return nil, invalid("%s: %v", req.Kind(), err)
	}
	switch r := req.(type) {
	case FetchHistoricalRequest:
		records, err := h.FetchHistorical(ctx, r.PageKey)
		if err != nil {
			return nil, err
		}
		return FetchHistoricalResponse{Records: records}, nil
	case GetHighlightInfoRequest:
		base := AnyBase
		if r.Base != nil {
			base = *r.Base
		}
		records, err := h.AppendAfter(ctx, r.PageKey, base, r.Records)
		if err != nil {
			return nil, err
		}
		return GetHighlightInfoResponse{Records: records}, nil
	}
	return nil, invalid("unsupported request %T", req)
}

// IsInvalid reports whether err is a message validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, apperr.ErrInvalidMessage)
}
