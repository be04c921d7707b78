// Package search exposes semantic search over stored highlights, in both
// request/response and streaming form.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rvdb/features/highlight"
)

// ErrInvalidQuery is a caller error: surfaced directly, never retried.
var ErrInvalidQuery = errors.New("search: invalid query")

const (
	DefaultK = 20
	MaxK     = 100
)

// Query is an ephemeral search request. K outside [1,100] is clamped.
type Query struct {
	Text            string
	K               int
	SourceType      string
	Author          string
	Tags            []string
	HighlightedFrom *time.Time
	HighlightedTo   *time.Time
}

// Result is one ranked hit. Score is normalized: 1.0 identical, 0.0
// maximally dissimilar, never negative.
type Result struct {
	ID            int64      `json:"id"`
	Text          string     `json:"text"`
	Score         float64    `json:"score"`
	SourceType    string     `json:"source_type,omitempty"`
	Author        string     `json:"author,omitempty"`
	Title         string     `json:"title,omitempty"`
	URL           string     `json:"url,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	HighlightedAt *time.Time `json:"highlighted_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ResultIter yields hits one at a time in rank order. Satisfied by
// highlight.SearchIter.
type ResultIter interface {
	Next() (highlight.ScoredHighlight, bool, error)
	Close() error
}

type Store interface {
	SimilaritySearch(ctx context.Context, vector []float32, filters highlight.SearchFilters, k int) (ResultIter, error)
	Ping(ctx context.Context) error
}

type Service struct {
	embedder     Embedder
	store        Store
	queryTimeout time.Duration
}

func NewService(embedder Embedder, store Store, queryTimeout time.Duration) *Service {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Service{embedder: embedder, store: store, queryTimeout: queryTimeout}
}

// Search vectorizes the query text and returns up to K results ordered by
// descending similarity, ties broken by ascending id. Zero matches is an
// empty slice, not an error. Timeouts surface immediately: search is
// latency-sensitive, so nothing here retries.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	iter, err := s.open(ctx, q)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	results := make([]Result, 0, clampK(q.K))
	for {
		hit, ok, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("search: read results: %w", err)
		}
		if !ok {
			break
		}
		results = append(results, toResult(hit))
	}
	return results, nil
}

// open validates the query, embeds it, and starts the similarity scan.
// Shared by Search and Stream.
func (s *Service) open(ctx context.Context, q Query) (ResultIter, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}
	k := clampK(q.K)

	vector, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)

	iter, err := s.store.SimilaritySearch(queryCtx, vector, highlight.SearchFilters{
		SourceType:      q.SourceType,
		Author:          q.Author,
		Tags:            q.Tags,
		HighlightedFrom: q.HighlightedFrom,
		HighlightedTo:   q.HighlightedTo,
	}, k)
	if err != nil {
		cancel()
		return nil, err
	}
	slog.DebugContext(ctx, "similarity query opened", "k", k)
	// The timeout must outlive this call: it is released when the caller
	// closes the iterator.
	return timedIter{ResultIter: iter, cancel: cancel}, nil
}

type timedIter struct {
	ResultIter
	cancel context.CancelFunc
}

func (t timedIter) Close() error {
	defer t.cancel()
	return t.ResultIter.Close()
}

// clampK bounds k into [1,100]; zero or negative falls back to the default.
func clampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// scoreFromDistance maps cosine distance (0..2) onto a similarity score in
// [0,1], monotonically decreasing in distance.
func scoreFromDistance(d float64) float64 {
	score := 1.0 - d/2.0
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func toResult(hit highlight.ScoredHighlight) Result {
	return Result{
		ID:            hit.ID,
		Text:          hit.Text,
		Score:         scoreFromDistance(hit.Distance),
		SourceType:    hit.SourceType,
		Author:        hit.SourceAuthor,
		Title:         hit.SourceTitle,
		URL:           hit.SourceURL,
		Tags:          hit.Tags,
		HighlightedAt: hit.HighlightedAt,
		UpdatedAt:     hit.UpdatedAt,
	}
}

// Ping reports storage reachability for the health endpoint.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
