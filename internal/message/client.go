package message

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/starford/marker/internal/models"
)

// Path is the endpoint the privileged side serves envelopes on.
const Path = "/api/messages"

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetry sets the attempt count and base delay for transient failures.
func WithRetry(attempts uint, delay time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.delay = delay
	}
}

// Client sends envelopes to a remote privileged side over HTTP.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	attempts uint
	delay    time.Duration
}

// NewClient returns a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		attempts: 3,
		delay:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchHistorical sends fetch_historical_highlight_info.
func (c *Client) FetchHistorical(ctx context.Context, pageKey string) ([]models.HighlightRecord, error) {
	resp, err := c.Send(ctx, FetchHistoricalRequest{PageKey: pageKey})
	if err != nil {
		return nil, err
	}
	return resp.(FetchHistoricalResponse).Records, nil
}

// ReportHighlights sends get_highlight_info. Records without an ID get one
// before the first attempt so a retried request appends them only once.
// A stale base fails with an error matching apperr.ErrConflict.
func (c *Client) ReportHighlights(ctx context.Context, pageKey string, base int, records []models.HighlightRecord) ([]models.HighlightRecord, error) {
	out := make([]models.HighlightRecord, len(records))
	copy(out, records)
	for i := range out {
		if out[i].ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("message: new id: %w", err)
			}
			out[i].ID = id.String()
		}
	}
	resp, err := c.Send(ctx, GetHighlightInfoRequest{PageKey: pageKey, Base: BaseOf(base), Records: out})
	if err != nil {
		return nil, err
	}
	return resp.(GetHighlightInfoResponse).Records, nil
}

// Send posts req and decodes the matching response. Network failures and
// 5xx statuses are retried; validation and remote handler errors are not.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	body, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	var resp Response
	err = retry.Do(
		func() error {
			data, status, err := c.post(ctx, body)
			if err != nil {
				return err
			}
			if status >= 500 && len(data) == 0 {
				return fmt.Errorf("message: server status %d", status)
			}
			r, err := DecodeResponse(data, req.Kind())
			if err != nil {
				var remote *RemoteError
				if status >= 500 && !errors.As(err, &remote) {
					return fmt.Errorf("message: server status %d: %w", status, err)
				}
				return retry.Unrecoverable(err)
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, res.StatusCode, err
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, res.StatusCode, retry.Unrecoverable(fmt.Errorf("message: server status %d", res.StatusCode))
	}
	return data, res.StatusCode, nil
}
