package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"rvdb/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		OpenAIAPIKey:        "test-key",
		EmbeddingModel:      "text-embedding-3-large",
		EmbeddingDim:        3072,
		ServerPort:          8080,
		MCPHost:             "127.0.0.1",
		MCPPort:             0,
		SourceReqPerMinute:  20,
		RetryMaxAttempts:    5,
		RetryInitialSeconds: 1,
		RetryMaxSeconds:     30,
		QueryTimeoutSeconds: 5,
		EmbedTimeoutSeconds: 30,
	}
}

func TestNew(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	app, err := New(testConfig(), db)
	assert.NoError(t, err)
	assert.NotNil(t, app)
	assert.NotNil(t, app.Handler)
	assert.NotNil(t, app.SyncService)
	assert.NotNil(t, app.SearchService)
	assert.NotNil(t, app.MCPServer)

	// Health route wired and answering.
	dbMock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestNew_HealthReportsDBDown(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	app, err := New(testConfig(), db)
	assert.NoError(t, err)

	dbMock.ExpectQuery(`SELECT 1`).WillReturnError(assert.AnError)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNew_UnknownRoute(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	app, err := New(testConfig(), db)
	assert.NoError(t, err)

	req := httptest.NewRequest("GET", "/nope", nil)
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
