// Package readwise is the client for the Readwise highlight export API.
package readwise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://readwise.io"

// APIError is a non-2xx response from the Readwise API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("readwise: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the error is worth retrying. Rate limits and
// server errors are transient; other 4xx (auth included) are permanent.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// ErrMalformed marks a response body that could not be decoded. Never
// retried: the same bytes would come back again.
var ErrMalformed = errors.New("readwise: malformed response")

// IsTransient reports whether err should go through the retry policy.
// Network-level errors and timeouts count as transient; cancellation and
// malformed responses do not.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, ErrMalformed) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

// WithBaseURL points the client at a different host (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRequestsPerMinute caps the request rate against the source API budget.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), 1)
	}
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		token:   token,
		http:    http.DefaultClient,
		limiter: rate.NewLimiter(rate.Limit(20.0/60.0), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExportPage fetches one page of the export endpoint. cursor and
// updatedAfter may be empty; the returned page carries the next cursor, nil
// when the listing is exhausted.
func (c *Client) ExportPage(ctx context.Context, cursor, updatedAfter string) (*ExportPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if cursor != "" {
		params.Set("pageCursor", cursor)
	}
	if updatedAfter != "" {
		params.Set("updatedAfter", updatedAfter)
	}

	u := c.baseURL + "/api/v2/export/"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("readwise: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var page ExportPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	slog.DebugContext(ctx, "fetched export page", "books", len(page.Results), "has_next", page.NextPageCursor != nil)
	return &page, nil
}

// Flatten expands a page of books into individual records, each carrying its
// book context.
func Flatten(page *ExportPage) []Record {
	var records []Record
	for _, book := range page.Results {
		for _, h := range book.Highlights {
			records = append(records, Record{Highlight: h, Book: book})
		}
	}
	return records
}
