package highlight

import (
	"strconv"
	"strings"
	"time"
)

// Highlight is one synced Readwise highlight. ID is the stable external
// identifier; upserts key on it.
type Highlight struct {
	ID            int64      `json:"id"`
	Text          string     `json:"text"`
	SourceType    string     `json:"source_type"`
	SourceAuthor  string     `json:"author,omitempty"`
	SourceTitle   string     `json:"title,omitempty"`
	SourceURL     string     `json:"url,omitempty"`
	Note          string     `json:"note,omitempty"`
	Location      *int       `json:"location,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	HighlightedAt *time.Time `json:"highlighted_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	// Embedding is nil when no new vector was computed for this write;
	// the upsert then keeps whatever the row already holds.
	Embedding []float32 `json:"-"`
}

// EmbeddingInput is the text sent to the embedding provider: the highlight
// text plus the personal note when one exists.
func (h *Highlight) EmbeddingInput() string {
	if h.Note == "" {
		return h.Text
	}
	return h.Text + "\n" + h.Note
}

// encodeVector renders a pgvector literal like [0.1,0.2,0.3].
func encodeVector(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
