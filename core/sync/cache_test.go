package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophsync/internal/model"
)

func runCacheContract(t *testing.T, c ConnectionStore) {
	t.Helper()
	ctx := context.Background()

	_, err := c.LoadLocal(ctx)
	assert.ErrorIs(t, err, ErrNotCached)
	_, err = c.LoadSnapshot(ctx, "w1")
	assert.ErrorIs(t, err, ErrNotCached)

	local := model.Collections{Links: []model.Item{link("L")}}
	require.NoError(t, c.SaveLocal(ctx, local))
	got, err := c.LoadLocal(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Item{link("L")}, got.Links)
	assert.NotNil(t, got.Notes)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.SaveConnection(ctx, Connection{WorkspaceID: "w2", Slug: "b", Role: model.RoleViewer, DisplayName: "B", UpdatedAt: now}))
	require.NoError(t, c.SaveConnection(ctx, Connection{WorkspaceID: "w1", Slug: "a", Role: model.RoleEditor, DisplayName: "A", Revision: 3, UpdatedAt: now}))
	require.NoError(t, c.SaveSnapshot(ctx, "w1", snapshot(3, link("A"))))

	conns, err := c.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "w1", conns[0].WorkspaceID)
	assert.Equal(t, int64(3), conns[0].Revision)
	assert.True(t, now.Equal(conns[0].UpdatedAt))

	snap, err := c.LoadSnapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Revision)
	assert.Equal(t, []model.Item{link("A")}, snap.Links)

	require.NoError(t, c.DeleteConnection(ctx, "w1"))
	conns, err = c.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "w2", conns[0].WorkspaceID)
	_, err = c.LoadSnapshot(ctx, "w1")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestMemoryCache(t *testing.T) {
	runCacheContract(t, NewMemoryCache())
}

func TestBadgerCache(t *testing.T) {
	c, err := OpenBadgerCache("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	runCacheContract(t, c)
}

func TestBadgerCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := OpenBadgerCache(dir)
	require.NoError(t, err)
	require.NoError(t, c.SaveConnection(ctx, Connection{WorkspaceID: "w1", Slug: "a", Role: model.RoleEditor}))
	require.NoError(t, c.Close())

	c, err = OpenBadgerCache(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	conns, err := c.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, model.RoleEditor, conns[0].Role)
}
