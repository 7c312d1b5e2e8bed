package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
	"github.com/jun/gophsync/internal/store/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestStore_ConcurrentWritersOneWinsPerRevision(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkspace(ctx,
		model.Workspace{ID: "w1", Slug: "w1"},
		model.Member{ID: "m1", WorkspaceID: "w1", UserID: "alice", Role: model.RoleAdmin},
		model.Collections{}))

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.WriteCollection(ctx, "w1", model.Links, 0, []model.Item{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, store.ErrRevisionConflict)
	}
	assert.Equal(t, 1, wins)

	snap, err := s.ReadSnapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Revision)
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed := model.Collections{Links: []model.Item{{ID: "a", Type: model.ItemLink, URL: "https://a"}}}
	require.NoError(t, s.CreateWorkspace(ctx, model.Workspace{ID: "w1", Slug: "w1"}, model.Member{ID: "m1", WorkspaceID: "w1", UserID: "alice", Role: model.RoleAdmin}, seed))

	snap, err := s.ReadSnapshot(ctx, "w1")
	require.NoError(t, err)
	snap.Links[0].Title = "mutated"

	again, err := s.ReadSnapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, again.Links[0].Title)
}
