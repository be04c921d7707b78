package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rvdb/internal/embed"
	"rvdb/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// SearchRequest is the POST /search body. K defaults to 20 and is clamped
// to at most 100.
type SearchRequest struct {
	Query   string  `json:"q"`
	K       int     `json:"k"`
	Filters Filters `json:"filters"`
}

type Filters struct {
	SourceType    string   `json:"source_type"`
	Author        string   `json:"author"`
	Tags          []string `json:"tags"`
	HighlightedAt []string `json:"highlighted_at"`
}

type SearchResponse struct {
	Results   []Result `json:"results"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "invalid JSON body", http.StatusBadRequest)
		return
	}

	query, err := toQuery(req.Query, req.K, req.Filters)
	if err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	results, err := h.service.Search(ctx, query)
	if err != nil {
		code, status := classifyError(err)
		slog.ErrorContext(ctx, "search failed", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, code, err.Error(), status)
		return
	}

	slog.InfoContext(ctx, "search completed",
		"results", len(results),
		"elapsed", time.Since(start),
		"correlationId", correlationID,
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(SearchResponse{
		Results:   results,
		ElapsedMS: time.Since(start).Milliseconds(),
	}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// SearchStream serves the same search as SSE, one `result` event per hit
// and a terminal `complete` or `error` event. Query parameters mirror the
// POST body: q, k, source_type, author, tags (comma separated),
// highlighted_from, highlighted_to.
func (h *Handler) SearchStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(ctx, w, "STREAMING_UNSUPPORTED", "response writer does not support streaming", http.StatusInternalServerError)
		return
	}

	query, err := queryFromParams(r)
	if err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	slog.InfoContext(ctx, "search stream started", "correlationId", correlationID)

	for ev := range h.service.Stream(ctx, query) {
		switch ev.Kind {
		case EventResult:
			payload, err := json.Marshal(ev.Result)
			if err != nil {
				slog.ErrorContext(ctx, "failed to encode result", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: result\ndata: %s\n\n", payload)
		case EventComplete:
			fmt.Fprintf(w, "event: complete\ndata: {\"total\":%d}\n\n", ev.Total)
		case EventError:
			payload, _ := json.Marshal(map[string]string{"message": ev.Message})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		}
		flusher.Flush()
	}

	slog.InfoContext(ctx, "search stream ended", "correlationId", correlationID)
}

// Health reports 200 when storage answers, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	if err := h.service.Ping(ctx); err != nil {
		slog.ErrorContext(ctx, "health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func toQuery(text string, k int, f Filters) (Query, error) {
	q := Query{
		Text:       text,
		K:          k,
		SourceType: f.SourceType,
		Author:     f.Author,
		Tags:       f.Tags,
	}
	if len(f.HighlightedAt) > 0 {
		if len(f.HighlightedAt) != 2 {
			return Query{}, errors.New("highlighted_at must be [start, end]")
		}
		from, err := parseDate(f.HighlightedAt[0])
		if err != nil {
			return Query{}, fmt.Errorf("invalid highlighted_at start: %v", err)
		}
		to, err := parseDate(f.HighlightedAt[1])
		if err != nil {
			return Query{}, fmt.Errorf("invalid highlighted_at end: %v", err)
		}
		q.HighlightedFrom = from
		q.HighlightedTo = to
	}
	return q, nil
}

func queryFromParams(r *http.Request) (Query, error) {
	params := r.URL.Query()
	q := Query{
		Text:       params.Get("q"),
		SourceType: params.Get("source_type"),
		Author:     params.Get("author"),
	}
	if strings.TrimSpace(q.Text) == "" {
		return Query{}, errors.New("missing query parameter q")
	}
	if raw := params.Get("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			return Query{}, fmt.Errorf("invalid k: %v", err)
		}
		q.K = k
	}
	if raw := params.Get("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				q.Tags = append(q.Tags, tag)
			}
		}
	}
	var err error
	if raw := params.Get("highlighted_from"); raw != "" {
		if q.HighlightedFrom, err = parseDate(raw); err != nil {
			return Query{}, fmt.Errorf("invalid highlighted_from: %v", err)
		}
	}
	if raw := params.Get("highlighted_to"); raw != "" {
		if q.HighlightedTo, err = parseDate(raw); err != nil {
			return Query{}, fmt.Errorf("invalid highlighted_to: %v", err)
		}
	}
	return q, nil
}

// parseDate accepts either a date or a full RFC 3339 timestamp.
func parseDate(raw string) (*time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as date", raw)
}

func classifyError(err error) (string, int) {
	var embedErr *embed.Error
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return "INVALID_REQUEST", http.StatusBadRequest
	case errors.As(err, &embedErr):
		return "EMBEDDING_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
