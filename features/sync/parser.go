package sync

import (
	"time"

	"rvdb/features/highlight"
	"rvdb/internal/readwise"
)

// parseTimestamp handles the ISO 8601 variants the export API emits,
// including a trailing Z and fractional seconds. Returns nil when absent or
// unparseable.
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// normalize converts a raw export record into a Highlight draft. The
// embedding is attached later by the orchestrator.
func normalize(rec readwise.Record) highlight.Highlight {
	tags := make([]string, 0, len(rec.Tags))
	for _, tag := range rec.Tags {
		if tag.Name != "" {
			tags = append(tags, tag.Name)
		}
	}

	url := rec.URL
	if url == "" {
		url = rec.Book.SourceURL
	}

	return highlight.Highlight{
		ID:            rec.ID,
		Text:          rec.Text,
		SourceType:    rec.Book.Category,
		SourceAuthor:  rec.Book.Author,
		SourceTitle:   rec.Book.Title,
		SourceURL:     url,
		Note:          rec.Note,
		Location:      rec.Location,
		Tags:          tags,
		HighlightedAt: parseTimestamp(rec.HighlightedAt),
		UpdatedAt:     parseTimestamp(rec.UpdatedAt),
	}
}
