package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// State is the persisted sync position for one source service: the opaque
// page cursor of the last completed page, the updated-after filter that
// cursor belongs to (empty for a backfill), and the last successful sync
// time. At most one row exists per service.
type State struct {
	Service      string
	Cursor       string
	UpdatedAfter string
	LastSyncedAt *time.Time
}

type CursorRepo struct {
	db *sql.DB
}

func NewCursorRepo(db *sql.DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get returns the state for service, or nil when no sync has run yet.
func (r *CursorRepo) Get(ctx context.Context, service string) (*State, error) {
	s := &State{Service: service}
	var cursor, updatedAfter sql.NullString
	var lastSynced sql.NullTime

	query := `SELECT page_cursor, updated_after, last_synced_at FROM sync_state WHERE service = $1`
	err := r.db.QueryRowContext(ctx, query, service).Scan(&cursor, &updatedAfter, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	s.Cursor = cursor.String
	s.UpdatedAfter = updatedAfter.String
	if lastSynced.Valid {
		t := lastSynced.Time
		s.LastSyncedAt = &t
	}
	return s, nil
}

// Save upserts the state row for its service. A nil LastSyncedAt leaves the
// stored watermark untouched, so mid-run cursor saves never regress it.
func (r *CursorRepo) Save(ctx context.Context, s State) error {
	query := `INSERT INTO sync_state (service, page_cursor, updated_after, last_synced_at) VALUES ($1, $2, $3, $4) ON CONFLICT (service) DO UPDATE SET page_cursor = EXCLUDED.page_cursor, updated_after = EXCLUDED.updated_after, last_synced_at = COALESCE(EXCLUDED.last_synced_at, sync_state.last_synced_at)`
	cursor := nullable(s.Cursor)
	updatedAfter := nullable(s.UpdatedAfter)
	_, err := r.db.ExecContext(ctx, query, s.Service, cursor, updatedAfter, s.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
