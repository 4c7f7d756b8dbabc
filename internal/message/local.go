package message

import (
	"context"
	"fmt"

	"github.com/starford/marker/internal/models"
)

// Local delivers messages to a Handler in the same process. Requests still
// pass through validation and dispatch.
type Local struct {
	h Handler
}

// NewLocal returns a channel bound to h.
func NewLocal(h Handler) *Local {
	return &Local{h: h}
}

// FetchHistorical sends fetch_historical_highlight_info.
func (l *Local) FetchHistorical(ctx context.Context, pageKey string) ([]models.HighlightRecord, error) {
	resp, err := Dispatch(ctx, l.h, FetchHistoricalRequest{PageKey: pageKey})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(FetchHistoricalResponse)
	if !ok {
		return nil, fmt.Errorf("message: unexpected response %T", resp)
	}
	return r.Records, nil
}

// ReportHighlights sends get_highlight_info and returns the stored records.
// base is the record count the sender's tree reflects, or AnyBase.
func (l *Local) ReportHighlights(ctx context.Context, pageKey string, base int, records []models.HighlightRecord) ([]models.HighlightRecord, error) {
	resp, err := Dispatch(ctx, l.h, GetHighlightInfoRequest{PageKey: pageKey, Base: BaseOf(base), Records: records})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(GetHighlightInfoResponse)
	if !ok {
		return nil, fmt.Errorf("message: unexpected response %T", resp)
	}
	return r.Records, nil
}
