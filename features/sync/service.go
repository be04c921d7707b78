// Package sync drives backfill and incremental synchronization from the
// Readwise export API into the highlight store.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rvdb/features/highlight"
	"rvdb/internal/embed"
	"rvdb/internal/readwise"
	"rvdb/internal/retry"
)

const ServiceName = "readwise"

// defaultIncrementalWindow is how far back an incremental run reaches when
// no cursor state exists and no explicit since was given.
const defaultIncrementalWindow = 24 * time.Hour

// Summary is the outcome of one sync run.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
}

type Source interface {
	ExportPage(ctx context.Context, cursor, updatedAfter string) (*readwise.ExportPage, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Store interface {
	UpsertBatch(ctx context.Context, highlights []highlight.Highlight) (highlight.BatchResult, error)
	ExistingMeta(ctx context.Context, ids []int64) (map[int64]highlight.Meta, error)
}

type CursorStore interface {
	Get(ctx context.Context, service string) (*State, error)
	Save(ctx context.Context, s State) error
}

// Service is the sync orchestrator. One run executes sequentially: pages are
// fetched in cursor order, embedded, upserted, and the cursor is persisted
// after each page so a crashed run resumes near where it stopped.
type Service struct {
	source   Source
	embedder Embedder
	store    Store
	cursors  CursorStore
	policy   retry.Policy
	now      func() time.Time
}

func NewService(source Source, embedder Embedder, store Store, cursors CursorStore, policy retry.Policy) *Service {
	return &Service{
		source:   source,
		embedder: embedder,
		store:    store,
		cursors:  cursors,
		policy:   policy,
		now:      time.Now,
	}
}

// RunBackfill syncs the entire highlight history. If a previous backfill was
// interrupted, it resumes from the persisted page cursor. A cursor left
// behind by a crashed incremental run belongs to a filtered listing and is
// ignored.
func (s *Service) RunBackfill(ctx context.Context) (Summary, error) {
	startCursor := ""
	state, err := s.cursors.Get(ctx, ServiceName)
	if err != nil {
		return Summary{}, err
	}
	if state != nil && state.Cursor != "" && state.UpdatedAfter == "" {
		startCursor = state.Cursor
		slog.InfoContext(ctx, "resuming backfill from persisted cursor")
	}
	return s.run(ctx, startCursor, "")
}

// RunIncremental syncs highlights updated after since. A nil since falls
// back to the last successful sync time, or now minus one day when no state
// exists yet. A persisted cursor is resumed only when it was written by a
// run with the same updated-after filter.
func (s *Service) RunIncremental(ctx context.Context, since *time.Time) (Summary, error) {
	state, err := s.cursors.Get(ctx, ServiceName)
	if err != nil {
		return Summary{}, err
	}

	updatedAfter := ""
	switch {
	case since != nil:
		updatedAfter = since.UTC().Format(time.RFC3339)
	case state != nil && state.LastSyncedAt != nil:
		updatedAfter = state.LastSyncedAt.UTC().Format(time.RFC3339)
	default:
		updatedAfter = s.now().Add(-defaultIncrementalWindow).UTC().Format(time.RFC3339)
	}

	startCursor := ""
	if state != nil && state.Cursor != "" && state.UpdatedAfter == updatedAfter {
		startCursor = state.Cursor
		slog.InfoContext(ctx, "resuming incremental sync from persisted cursor")
	}

	slog.InfoContext(ctx, "starting incremental sync", "updated_after", updatedAfter)
	return s.run(ctx, startCursor, updatedAfter)
}

func (s *Service) run(ctx context.Context, cursor, updatedAfter string) (Summary, error) {
	runStart := s.now().UTC()
	var summary Summary

	for {
		page, err := s.fetchPage(ctx, cursor, updatedAfter)
		if err != nil {
			// Permanent source errors abort without advancing the cursor.
			return summary, fmt.Errorf("fetch page: %w", err)
		}

		records := readwise.Flatten(page)
		if len(records) > 0 {
			pageSummary, err := s.processPage(ctx, records)
			summary.Processed += pageSummary.Processed
			summary.Succeeded += pageSummary.Succeeded
			summary.Failed += pageSummary.Failed
			if err != nil {
				return summary, err
			}
		}

		if page.NextPageCursor == nil || *page.NextPageCursor == "" {
			break
		}
		cursor = *page.NextPageCursor

		// Persist the cursor only after the page's data landed, so a crash
		// in between reprocesses at most this one page. LastSyncedAt stays
		// nil here; the store keeps the prior watermark until the run ends.
		if err := s.cursors.Save(ctx, State{Service: ServiceName, Cursor: cursor, UpdatedAfter: updatedAfter}); err != nil {
			return summary, fmt.Errorf("persist cursor: %w", err)
		}
	}

	if err := s.cursors.Save(ctx, State{Service: ServiceName, LastSyncedAt: &runStart}); err != nil {
		return summary, fmt.Errorf("persist sync state: %w", err)
	}

	slog.InfoContext(ctx, "sync run complete",
		"processed", summary.Processed, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

func (s *Service) fetchPage(ctx context.Context, cursor, updatedAfter string) (*readwise.ExportPage, error) {
	policy := s.policy
	policy.Retryable = readwise.IsTransient

	var page *readwise.ExportPage
	err := policy.Do(ctx, func() error {
		var fetchErr error
		page, fetchErr = s.source.ExportPage(ctx, cursor, updatedAfter)
		return fetchErr
	})
	return page, err
}

// processPage normalizes one page of records, embeds the texts that need a
// fresh vector, and upserts the whole page as a batch.
func (s *Service) processPage(ctx context.Context, records []readwise.Record) (Summary, error) {
	summary := Summary{Processed: len(records)}

	drafts := make([]highlight.Highlight, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		draft := normalize(rec)
		drafts = append(drafts, draft)
		ids = append(ids, draft.ID)
	}

	existing, err := s.store.ExistingMeta(ctx, ids)
	if err != nil {
		return summary, fmt.Errorf("fetch existing meta: %w", err)
	}

	// Skip re-embedding records whose stored vector is current.
	var toEmbed []int
	for i := range drafts {
		meta, ok := existing[drafts[i].ID]
		if ok && meta.HasEmbedding && unchanged(meta.UpdatedAt, drafts[i].UpdatedAt) {
			continue
		}
		toEmbed = append(toEmbed, i)
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, idx := range toEmbed {
			texts[i] = drafts[idx].EmbeddingInput()
		}

		vectors, err := s.embedBatch(ctx, texts)
		if err != nil {
			return summary, fmt.Errorf("embed page: %w", err)
		}
		for i, idx := range toEmbed {
			drafts[idx].Embedding = vectors[i]
		}
	}

	result, err := s.store.UpsertBatch(ctx, drafts)
	if err != nil {
		return summary, fmt.Errorf("upsert page: %w", err)
	}

	summary.Succeeded = result.Succeeded
	summary.Failed = len(result.Failed)
	for id, recErr := range result.Failed {
		slog.WarnContext(ctx, "record upsert failed", "id", id, "error", recErr)
	}
	return summary, nil
}

func (s *Service) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	policy := s.policy
	policy.Retryable = embed.IsTransient

	var vectors [][]float32
	err := policy.Do(ctx, func() error {
		var embedErr error
		vectors, embedErr = s.embedder.EmbedBatch(ctx, texts)
		return embedErr
	})
	return vectors, err
}

func unchanged(stored, incoming *time.Time) bool {
	if stored == nil || incoming == nil {
		return false
	}
	return !incoming.After(*stored)
}
