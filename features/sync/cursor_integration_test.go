package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "rvdb/features/sync"
	"rvdb/internal/testutils"
)

func TestIntegration_CursorSavePreservesWatermark(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := syncpkg.NewCursorRepo(s.DB)
	ctx := context.Background()

	// A completed run leaves a watermark and no cursor.
	watermark := time.Date(2024, 4, 20, 6, 30, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, syncpkg.State{Service: "readwise", LastSyncedAt: &watermark}))

	// A later run persists a page cursor mid-flight with no watermark of its
	// own. The stored watermark must survive, or a crash here would make the
	// next parameterless incremental skip everything since it.
	require.NoError(t, repo.Save(ctx, syncpkg.State{
		Service:      "readwise",
		Cursor:       "page-3",
		UpdatedAfter: "2024-04-20T06:30:00Z",
	}))

	state, err := repo.Get(ctx, "readwise")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "page-3", state.Cursor)
	assert.Equal(t, "2024-04-20T06:30:00Z", state.UpdatedAfter)
	require.NotNil(t, state.LastSyncedAt)
	assert.True(t, watermark.Equal(*state.LastSyncedAt))

	// The terminal save clears the cursor and advances the watermark.
	done := time.Date(2024, 4, 21, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, syncpkg.State{Service: "readwise", LastSyncedAt: &done}))

	state, err = repo.Get(ctx, "readwise")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Empty(t, state.Cursor)
	assert.Empty(t, state.UpdatedAfter)
	require.NotNil(t, state.LastSyncedAt)
	assert.True(t, done.Equal(*state.LastSyncedAt))
}
