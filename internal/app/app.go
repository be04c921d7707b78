// Package app wires the feature services together and runs the HTTP and
// MCP servers.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"rvdb/features/highlight"
	"rvdb/features/search"
	"rvdb/features/sync"
	"rvdb/internal/config"
	"rvdb/internal/embed"
	"rvdb/internal/mcp"
	"rvdb/internal/middleware"
	"rvdb/internal/readwise"
	"rvdb/internal/retry"
)

type App struct {
	Handler       http.Handler
	SyncService   *sync.Service
	SearchService *search.Service
	MCPServer     *mcp.Server

	serverPort int
}

func New(cfg *config.Config, db *sql.DB) (*App, error) {
	highlightRepo := highlight.NewPostgresRepo(db)
	cursorRepo := sync.NewCursorRepo(db)

	source := readwise.NewClient(cfg.ReadwiseToken,
		readwise.WithRequestsPerMinute(cfg.SourceReqPerMinute),
	)

	gateway, err := embed.NewGateway(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
		embed.WithModel(cfg.EmbeddingModel),
		embed.WithDimension(cfg.EmbeddingDim),
		embed.WithTimeout(time.Duration(cfg.EmbedTimeoutSeconds)*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding gateway error: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: time.Duration(cfg.RetryInitialSeconds) * time.Second,
		MaxDelay:     time.Duration(cfg.RetryMaxSeconds) * time.Second,
	}

	syncService := sync.NewService(source, gateway, highlightRepo, cursorRepo, policy)

	queryTimeout := time.Duration(cfg.QueryTimeoutSeconds) * time.Second
	searchService := search.NewService(gateway, searchStore{repo: highlightRepo}, queryTimeout)
	searchHandler := search.NewHandler(searchService)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))
	mux.Handle("GET /search/stream", middleware.CorrelationID(enableCORS(searchHandler.SearchStream)))
	mux.Handle("GET /health", middleware.CorrelationID(http.HandlerFunc(searchHandler.Health)))

	mcpAddr := fmt.Sprintf("%s:%d", cfg.MCPHost, cfg.MCPPort)

	return &App{
		Handler:       mux,
		SyncService:   syncService,
		SearchService: searchService,
		MCPServer:     mcp.NewServer(mcpAddr, searchService),
		serverPort:    cfg.ServerPort,
	}, nil
}

// Run serves the HTTP API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.serverPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.serverPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RunMCP serves the streaming protocol until ctx is cancelled, then drains
// active connections.
func (a *App) RunMCP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.MCPServer.ListenAndServe(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down mcp server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.MCPServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// searchStore narrows the highlight repo to the search engine's interface.
// The repo returns a concrete iterator; this adapter lifts it to the
// interface form the service consumes.
type searchStore struct {
	repo *highlight.PostgresRepo
}

func (s searchStore) SimilaritySearch(ctx context.Context, vector []float32, filters highlight.SearchFilters, k int) (search.ResultIter, error) {
	return s.repo.SimilaritySearch(ctx, vector, filters, k)
}

func (s searchStore) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
