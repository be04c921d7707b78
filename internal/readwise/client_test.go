package readwise

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportBody(nextCursor *string, books ...Book) ExportPage {
	return ExportPage{Count: len(books), NextPageCursor: nextCursor, Results: books}
}

func testClient(srv *httptest.Server) *Client {
	return NewClient("token-123", WithBaseURL(srv.URL), WithRequestsPerMinute(6000))
}

func TestExportPage_Pagination(t *testing.T) {
	cursor2 := "page-2"
	var gotCursors []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/export/", r.URL.Path)
		assert.Equal(t, "Token token-123", r.Header.Get("Authorization"))
		gotCursors = append(gotCursors, r.URL.Query().Get("pageCursor"))

		var page ExportPage
		if r.URL.Query().Get("pageCursor") == "" {
			page = exportBody(&cursor2, Book{UserBookID: 1, Title: "Book A", Highlights: []Highlight{{ID: 10, Text: "first"}}})
		} else {
			page = exportBody(nil, Book{UserBookID: 2, Title: "Book B", Highlights: []Highlight{{ID: 20, Text: "second"}}})
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	client := testClient(srv)

	first, err := client.ExportPage(context.Background(), "", "")
	require.NoError(t, err)
	require.NotNil(t, first.NextPageCursor)
	assert.Equal(t, "page-2", *first.NextPageCursor)

	second, err := client.ExportPage(context.Background(), *first.NextPageCursor, "")
	require.NoError(t, err)
	assert.Nil(t, second.NextPageCursor)

	assert.Equal(t, []string{"", "page-2"}, gotCursors)
}

func TestExportPage_UpdatedAfterForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-05-01T00:00:00Z", r.URL.Query().Get("updatedAfter"))
		json.NewEncoder(w).Encode(exportBody(nil))
	}))
	defer srv.Close()

	_, err := testClient(srv).ExportPage(context.Background(), "", "2024-05-01T00:00:00Z")
	assert.NoError(t, err)
}

func TestExportPage_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		auth      bool
	}{
		{"RateLimited", http.StatusTooManyRequests, true, false},
		{"ServerError", http.StatusInternalServerError, true, false},
		{"Unauthorized", http.StatusUnauthorized, false, true},
		{"Forbidden", http.StatusForbidden, false, true},
		{"NotFound", http.StatusNotFound, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := testClient(srv).ExportPage(context.Background(), "", "")
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.auth, IsAuth(err))
		})
	}
}

func TestExportPage_MalformedResponseIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := testClient(srv).ExportPage(context.Background(), "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.False(t, IsTransient(err))
}

func TestFlatten(t *testing.T) {
	cursor := "next"
	page := exportBody(&cursor,
		Book{UserBookID: 1, Title: "A", Author: "Alice", Highlights: []Highlight{{ID: 1, Text: "one"}, {ID: 2, Text: "two"}}},
		Book{UserBookID: 2, Title: "B", Highlights: []Highlight{{ID: 3, Text: "three"}}},
	)

	records := Flatten(&page)
	require.Len(t, records, 3)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, "A", records[0].Book.Title)
	assert.Equal(t, "Alice", records[0].Book.Author)
	assert.Equal(t, "B", records[2].Book.Title)
}
