package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvdb/internal/readwise"
)

func TestParseTimestamp(t *testing.T) {
	t.Run("TrailingZ", func(t *testing.T) {
		got := parseTimestamp("2022-09-13T16:41:53.186Z")
		require.NotNil(t, got)
		assert.Equal(t, 2022, got.Year())
		assert.Equal(t, 186000000, got.Nanosecond())
	})

	t.Run("Offset", func(t *testing.T) {
		got := parseTimestamp("2024-05-01T10:00:00+02:00")
		require.NotNil(t, got)
		assert.Equal(t, 8, got.UTC().Hour())
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Nil(t, parseTimestamp(""))
	})

	t.Run("Garbage", func(t *testing.T) {
		assert.Nil(t, parseTimestamp("yesterday"))
	})
}

func TestNormalize(t *testing.T) {
	loc := 42
	rec := readwise.Record{
		Highlight: readwise.Highlight{
			ID:            123,
			Text:          "highlight text",
			Note:          "my note",
			Location:      &loc,
			URL:           "",
			Tags:          []readwise.Tag{{Name: "go"}, {Name: ""}, {Name: "db"}},
			HighlightedAt: "2024-05-01T10:00:00Z",
			UpdatedAt:     "2024-05-02T10:00:00Z",
		},
		Book: readwise.Book{
			UserBookID: 9,
			Title:      "Some Title",
			Author:     "Some Author",
			Category:   "article",
			SourceURL:  "https://example.com/post",
		},
	}

	h := normalize(rec)

	assert.Equal(t, int64(123), h.ID)
	assert.Equal(t, "highlight text", h.Text)
	assert.Equal(t, "article", h.SourceType)
	assert.Equal(t, "Some Author", h.SourceAuthor)
	assert.Equal(t, "Some Title", h.SourceTitle)
	// Falls back to the book URL when the highlight has none.
	assert.Equal(t, "https://example.com/post", h.SourceURL)
	assert.Equal(t, []string{"go", "db"}, h.Tags)
	require.NotNil(t, h.HighlightedAt)
	require.NotNil(t, h.UpdatedAt)
	assert.Equal(t, time.May, h.HighlightedAt.Month())
	assert.Nil(t, h.Embedding)
	assert.Equal(t, "highlight text\nmy note", h.EmbeddingInput())
}

func TestNormalize_HighlightURLWins(t *testing.T) {
	rec := readwise.Record{
		Highlight: readwise.Highlight{ID: 1, Text: "t", URL: "https://direct"},
		Book:      readwise.Book{SourceURL: "https://book"},
	}
	assert.Equal(t, "https://direct", normalize(rec).SourceURL)
}
