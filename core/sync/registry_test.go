package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophsync/internal/model"
)

type staticLister struct {
	summaries []model.WorkspaceSummary
	err       error
}

func (s staticLister) ListWorkspaces(context.Context) ([]model.WorkspaceSummary, error) {
	return s.summaries, s.err
}

func summary(id, name string, role model.Role) model.WorkspaceSummary {
	return model.WorkspaceSummary{ID: id, Slug: id + "-slug", DisplayName: name, Role: role}
}

func TestRegistry_StartsLocal(t *testing.T) {
	r := NewRegistry()
	active := r.Active()
	assert.Equal(t, LocalInstanceID, active.ID)
	assert.False(t, active.Remote)
	assert.Len(t, r.Instances(), 1)
	assert.ErrorIs(t, r.setActive("nope"), ErrUnknownInstance)
}

func TestRegistry_Hydrate(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	removed, err := r.Hydrate(ctx, staticLister{summaries: []model.WorkspaceSummary{
		summary("w2", "Zeta", model.RoleViewer),
		summary("w1", "Alpha", model.RoleEditor),
	}})
	require.NoError(t, err)
	assert.Empty(t, removed)

	ids := make([]string, 0, 3)
	for _, in := range r.Instances() {
		ids = append(ids, in.ID)
	}
	assert.Equal(t, []string{LocalInstanceID, "w1", "w2"}, ids)

	require.NoError(t, r.setActive("w2"))
	removed, err = r.Hydrate(ctx, staticLister{summaries: []model.WorkspaceSummary{
		summary("w1", "Alpha", model.RoleAdmin),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"w2"}, removed)
	assert.Equal(t, LocalInstanceID, r.Active().ID)

	w1, ok := r.Get("w1")
	require.True(t, ok)
	assert.True(t, w1.Remote)
	assert.Equal(t, model.RoleAdmin, w1.Role)
}

func TestRegistry_HydrateKeepsValidSelection(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	lister := staticLister{summaries: []model.WorkspaceSummary{summary("w1", "Alpha", model.RoleEditor)}}

	_, err := r.Hydrate(ctx, lister)
	require.NoError(t, err)
	require.NoError(t, r.setActive("w1"))

	_, err = r.Hydrate(ctx, lister)
	require.NoError(t, err)
	assert.Equal(t, "w1", r.Active().ID)
}

func TestRegistry_HydrateErrorLeavesRegistry(t *testing.T) {
	r := NewRegistry()
	r.put(Instance{ID: "w1", DisplayName: "Alpha", Role: model.RoleEditor})

	_, err := r.Hydrate(context.Background(), staticLister{err: errors.New("down")})
	require.Error(t, err)
	_, ok := r.Get("w1")
	assert.True(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	r.put(Instance{ID: "w1", DisplayName: "Alpha"})
	require.NoError(t, r.setActive("w1"))

	assert.True(t, r.remove("w1"))
	assert.Equal(t, LocalInstanceID, r.Active().ID)
	assert.False(t, r.remove(LocalInstanceID))
	_, ok := r.Get(LocalInstanceID)
	assert.True(t, ok)
}
