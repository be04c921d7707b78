package highlight

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// BatchResult reports partial-failure semantics for a batch upsert: a bad
// record is recorded per id without aborting the rest of the batch.
type BatchResult struct {
	Succeeded int
	Failed    map[int64]error
}

// Meta is the stored state the sync skip policy needs.
type Meta struct {
	UpdatedAt    *time.Time
	HasEmbedding bool
}

// SearchFilters are combined conjunctively and applied as a pre-filter in
// the similarity query.
type SearchFilters struct {
	SourceType      string
	Author          string
	Tags            []string
	HighlightedFrom *time.Time
	HighlightedTo   *time.Time
}

// ScoredHighlight is a search hit with its raw cosine distance.
type ScoredHighlight struct {
	Highlight
	Distance float64
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// An incoming row with an unknown updated_at always wins; only a timestamp
// strictly older than the stored one is rejected as stale.
const upsertQuery = `INSERT INTO highlight (id, text, source_type, source_author, source_title, source_url, note, location, tags, highlighted_at, updated_at, embedding) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::halfvec) ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, source_type = EXCLUDED.source_type, source_author = EXCLUDED.source_author, source_title = EXCLUDED.source_title, source_url = EXCLUDED.source_url, note = EXCLUDED.note, location = EXCLUDED.location, tags = EXCLUDED.tags, highlighted_at = EXCLUDED.highlighted_at, updated_at = EXCLUDED.updated_at, embedding = COALESCE(EXCLUDED.embedding, highlight.embedding) WHERE highlight.updated_at IS NULL OR EXCLUDED.updated_at IS NULL OR EXCLUDED.updated_at >= highlight.updated_at`

// UpsertBatch writes each highlight with insert-or-update-on-conflict keyed
// by id. A record failure is collected in the result instead of aborting the
// batch. Rows are written individually, so concurrent batches for different
// ids never contend on a shared lock; same-id races resolve last-write-wins
// by updated_at recency (equal timestamps accept the later write).
func (r *PostgresRepo) UpsertBatch(ctx context.Context, highlights []Highlight) (BatchResult, error) {
	result := BatchResult{Failed: make(map[int64]error)}
	if len(highlights) == 0 {
		return result, nil
	}

	for _, h := range highlights {
		var embedding any
		if h.Embedding != nil {
			embedding = encodeVector(h.Embedding)
		}

		_, err := r.db.ExecContext(ctx, upsertQuery,
			h.ID, h.Text, h.SourceType,
			nullString(h.SourceAuthor), nullString(h.SourceTitle), nullString(h.SourceURL),
			nullString(h.Note), h.Location, pq.Array(h.Tags),
			h.HighlightedAt, h.UpdatedAt, embedding,
		)
		if err != nil {
			result.Failed[h.ID] = err
			continue
		}
		result.Succeeded++
	}

	if len(result.Failed) > 0 {
		slog.WarnContext(ctx, "batch upsert had record failures",
			"succeeded", result.Succeeded, "failed", len(result.Failed))
	}
	return result, nil
}

// ExistingMeta returns updated_at and embedding presence for the given ids.
// Missing ids are simply absent from the map.
func (r *PostgresRepo) ExistingMeta(ctx context.Context, ids []int64) (map[int64]Meta, error) {
	meta := make(map[int64]Meta, len(ids))
	if len(ids) == 0 {
		return meta, nil
	}

	query := `SELECT id, updated_at, embedding IS NOT NULL FROM highlight WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("fetch existing meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var updatedAt sql.NullTime
		var hasEmbedding bool
		if err := rows.Scan(&id, &updatedAt, &hasEmbedding); err != nil {
			return nil, err
		}
		m := Meta{HasEmbedding: hasEmbedding}
		if updatedAt.Valid {
			t := updatedAt.Time
			m.UpdatedAt = &t
		}
		meta[id] = m
	}
	return meta, rows.Err()
}

// SearchIter streams similarity hits row by row so a caller can stop
// consuming the database cursor as soon as its subscriber departs.
type SearchIter struct {
	rows *sql.Rows
}

// Next returns the next hit, or ok=false when the result set is exhausted.
func (it *SearchIter) Next() (ScoredHighlight, bool, error) {
	if !it.rows.Next() {
		return ScoredHighlight{}, false, it.rows.Err()
	}

	var (
		h             ScoredHighlight
		author, title sql.NullString
		url, note     sql.NullString
		location      sql.NullInt64
		tags          pq.StringArray
		highlightedAt sql.NullTime
		updatedAt     sql.NullTime
	)
	err := it.rows.Scan(&h.ID, &h.Text, &h.SourceType, &author, &title, &url,
		&note, &location, &tags, &highlightedAt, &updatedAt, &h.Distance)
	if err != nil {
		return ScoredHighlight{}, false, err
	}

	h.SourceAuthor = author.String
	h.SourceTitle = title.String
	h.SourceURL = url.String
	h.Note = note.String
	if location.Valid {
		loc := int(location.Int64)
		h.Location = &loc
	}
	h.Tags = []string(tags)
	if highlightedAt.Valid {
		t := highlightedAt.Time
		h.HighlightedAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		h.UpdatedAt = &t
	}
	return h, true, nil
}

func (it *SearchIter) Close() error { return it.rows.Close() }

// SimilaritySearch runs the ANN query: cosine distance against the query
// vector, filters applied as a pre-filter, ordered by ascending distance
// with ties broken by ascending id.
func (r *PostgresRepo) SimilaritySearch(ctx context.Context, vector []float32, filters SearchFilters, k int) (*SearchIter, error) {
	conditions := []string{"embedding IS NOT NULL"}
	params := []any{encodeVector(vector)}
	idx := 2

	if filters.SourceType != "" {
		conditions = append(conditions, fmt.Sprintf("source_type = $%d", idx))
		params = append(params, filters.SourceType)
		idx++
	}
	if filters.Author != "" {
		conditions = append(conditions, fmt.Sprintf("source_author = $%d", idx))
		params = append(params, filters.Author)
		idx++
	}
	if len(filters.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("tags && $%d", idx))
		params = append(params, pq.Array(filters.Tags))
		idx++
	}
	switch {
	case filters.HighlightedFrom != nil && filters.HighlightedTo != nil:
		conditions = append(conditions, fmt.Sprintf("highlighted_at BETWEEN $%d AND $%d", idx, idx+1))
		params = append(params, *filters.HighlightedFrom, *filters.HighlightedTo)
		idx += 2
	case filters.HighlightedFrom != nil:
		conditions = append(conditions, fmt.Sprintf("highlighted_at >= $%d", idx))
		params = append(params, *filters.HighlightedFrom)
		idx++
	case filters.HighlightedTo != nil:
		conditions = append(conditions, fmt.Sprintf("highlighted_at <= $%d", idx))
		params = append(params, *filters.HighlightedTo)
		idx++
	}

	query := fmt.Sprintf(`SELECT id, text, source_type, source_author, source_title, source_url, note, location, tags, highlighted_at, updated_at, embedding <=> $1::halfvec AS distance FROM highlight WHERE %s ORDER BY distance ASC, id ASC LIMIT $%d`,
		joinAnd(conditions), idx)
	params = append(params, k)

	rows, err := r.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return &SearchIter{rows: rows}, nil
}

// Ping checks storage reachability for the health endpoint.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	var one int
	return r.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

func joinAnd(conditions []string) string {
	out := conditions[0]
	for _, c := range conditions[1:] {
		out += " AND " + c
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
