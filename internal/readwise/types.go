package readwise

// ExportPage is one page of the Readwise export API response.
type ExportPage struct {
	Count          int     `json:"count"`
	NextPageCursor *string `json:"nextPageCursor"`
	Results        []Book  `json:"results"`
}

// Book groups the highlights the export API returns per source document.
type Book struct {
	UserBookID int         `json:"user_book_id"`
	Title      string      `json:"title"`
	Author     string      `json:"author"`
	Category   string      `json:"category"`
	Source     string      `json:"source"`
	SourceURL  string      `json:"source_url"`
	Highlights []Highlight `json:"highlights"`
}

// Highlight is a raw highlight as returned by the export API.
type Highlight struct {
	ID            int64  `json:"id"`
	Text          string `json:"text"`
	Note          string `json:"note"`
	Location      *int   `json:"location"`
	URL           string `json:"url"`
	Tags          []Tag  `json:"tags"`
	HighlightedAt string `json:"highlighted_at"`
	UpdatedAt     string `json:"updated_at"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Record is a flattened highlight carrying its book context, the unit the
// sync pipeline consumes.
type Record struct {
	Highlight
	Book Book `json:"-"`
}
