// Package storetest holds behaviour tests shared by every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

// Factory returns an empty store for a single subtest.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func link(id string) model.Item {
	return model.Item{ID: id, Type: model.ItemLink, Title: id, URL: "https://example.com/" + id}
}

func seedWorkspace(t *testing.T, s store.Store, id, owner string) {
	t.Helper()
	ws := model.Workspace{ID: id, Slug: "slug-" + id, DisplayName: "Team " + id, CreatedByUserID: owner, CreatedAt: epoch}
	m := model.Member{ID: "m-" + owner + "-" + id, WorkspaceID: id, UserID: owner, Role: model.RoleAdmin, CanInvite: true, JoinedAt: epoch}
	require.NoError(t, s.CreateWorkspace(context.Background(), ws, m, model.Collections{}))
}

func seedInvite(t *testing.T, s store.Store, wsID, slug string, maxUses int, expires time.Time) model.Invite {
	t.Helper()
	inv := model.Invite{
		ID:                "inv-" + slug,
		WorkspaceID:       wsID,
		Slug:              slug,
		CodeHash:          "hash-" + slug,
		Role:              model.RoleEditor,
		ExpiresAt:         expires,
		MaxUses:           maxUses,
		CreatedByMemberID: "m-owner",
		CreatedAt:         epoch,
	}
	require.NoError(t, s.CreateInvite(context.Background(), inv))
	return inv
}

func consume(s store.Store, slug, user string, now time.Time) (*model.Workspace, *model.Member, error) {
	return s.ConsumeInvite(context.Background(), store.ConsumeRequest{
		Slug:     slug,
		CodeHash: "hash-" + slug,
		UserID:   user,
		MemberID: "m-" + user,
		Now:      now,
	})
}

// marker is an item whose id records the revision its write produced.
func marker(key model.CollectionKey, rev int64) model.Item {
	return model.Item{
		ID:       "r" + strconv.FormatInt(rev, 10),
		Type:     key.ItemType(),
		URL:      "https://example.com",
		Language: "go",
		State:    "up",
		Variant:  "ok",
	}
}

// checkConsistent fails when a collection in snap holds a write newer than
// snap's revision. It is safe to call from several goroutines.
func checkConsistent(t *testing.T, snap model.Snapshot) {
	t.Helper()
	for _, k := range model.CollectionKeys {
		for _, it := range snap.Get(k) {
			rev, err := strconv.ParseInt(strings.TrimPrefix(it.ID, "r"), 10, 64)
			if !assert.NoError(t, err) {
				continue
			}
			assert.LessOrEqual(t, rev, snap.Revision, "%s holds revision %d in snapshot %d", k, rev, snap.Revision)
		}
	}
}

// Run exercises the full store contract against fresh stores from newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("NewWorkspaceStartsAtZero", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")

		snap, err := s.ReadSnapshot(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), snap.Revision)
		assert.Empty(t, snap.Links)
		assert.NotNil(t, snap.Statuses)
	})

	t.Run("DuplicateSlugRejected", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		ws := model.Workspace{ID: "w2", Slug: "slug-w1", DisplayName: "Other", CreatedAt: epoch}
		err := s.CreateWorkspace(ctx, ws, model.Member{ID: "m2", WorkspaceID: "w2", UserID: "bob", Role: model.RoleAdmin, JoinedAt: epoch}, model.Collections{})
		assert.ErrorIs(t, err, store.ErrSlugTaken)
	})

	t.Run("MissingWorkspace", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReadSnapshot(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.WriteCollection(ctx, "nope", model.Links, 0, nil)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("RevisionIsMonotonic", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")

		var rev int64
		for i, key := range model.CollectionKeys {
			items := []model.Item{}
			if key == model.Links {
				items = append(items, link("a"))
			}
			next, err := s.WriteCollection(ctx, "w1", key, rev, items)
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), next)
			rev = next
		}
	})

	t.Run("StaleWriteReturnsCurrentSnapshot", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")

		rev, err := s.WriteCollection(ctx, "w1", model.Links, 0, []model.Item{link("a")})
		require.NoError(t, err)
		require.Equal(t, int64(1), rev)

		_, err = s.WriteCollection(ctx, "w1", model.Links, 0, []model.Item{link("a"), link("b")})
		require.ErrorIs(t, err, store.ErrRevisionConflict)

		var conflict *store.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, int64(0), conflict.BaseRevision)
		assert.Equal(t, int64(1), conflict.Current.Revision)
		assert.Equal(t, []model.Item{link("a")}, conflict.Current.Links)

		snap, err := s.ReadSnapshot(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Revision)
		assert.Equal(t, []model.Item{link("a")}, snap.Links)
	})

	t.Run("WriteKeepsOrderAndOtherCollections", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")

		note := model.Item{ID: "n1", Type: model.ItemNote, Content: "hello"}
		_, err := s.WriteCollection(ctx, "w1", model.Notes, 0, []model.Item{note})
		require.NoError(t, err)
		_, err = s.WriteCollection(ctx, "w1", model.Links, 1, []model.Item{link("c"), link("a"), link("b")})
		require.NoError(t, err)

		snap, err := s.ReadSnapshot(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, []model.Item{link("c"), link("a"), link("b")}, snap.Links)
		assert.Equal(t, []model.Item{note}, snap.Notes)
	})

	t.Run("ConflictSnapshotsAreConsistent", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")

		const writesPerKey = 10
		var wg sync.WaitGroup
		for _, k := range model.CollectionKeys {
			wg.Add(1)
			go func() {
				defer wg.Done()
				base := int64(0)
				for done := 0; done < writesPerKey; {
					rev, err := s.WriteCollection(ctx, "w1", k, base, []model.Item{marker(k, base+1)})
					var conflict *store.ConflictError
					switch {
					case err == nil:
						base = rev
						done++
					case errors.As(err, &conflict):
						checkConsistent(t, conflict.Current)
						base = conflict.Current.Revision
					default:
						assert.NoError(t, err)
						return
					}
				}
			}()
		}
		wg.Wait()

		snap, err := s.ReadSnapshot(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, int64(writesPerKey*len(model.CollectionKeys)), snap.Revision)
		checkConsistent(t, *snap)
	})

	t.Run("ListWorkspacesSkipsRemovedMemberships", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedWorkspace(t, s, "w2", "alice")

		list, err := s.ListWorkspacesForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, list, 2)

		require.NoError(t, s.RemoveMember(ctx, "w2", "m-alice-w2", epoch))
		list, err = s.ListWorkspacesForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "w1", list[0].ID)
		assert.Equal(t, model.RoleAdmin, list[0].Role)
	})

	t.Run("SingleUseInvite", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "once", 1, epoch.Add(time.Hour))

		ws, m, err := consume(s, "once", "bob", epoch)
		require.NoError(t, err)
		assert.Equal(t, "w1", ws.ID)
		assert.Equal(t, model.RoleEditor, m.Role)
		assert.False(t, m.CanInvite)

		_, _, err = consume(s, "once", "carol", epoch)
		assert.ErrorIs(t, err, store.ErrInviteInvalid)

		inv, err := s.GetInvite(ctx, "w1", "inv-once")
		require.NoError(t, err)
		assert.Equal(t, 1, inv.UseCount)
		assert.Equal(t, "bob", inv.UsedByUserID)
	})

	t.Run("MultiUseInvite", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "three", 3, epoch.Add(time.Hour))

		for _, user := range []string{"u1", "u2", "u3"} {
			_, _, err := consume(s, "three", user, epoch)
			require.NoError(t, err, user)
		}
		_, _, err := consume(s, "three", "u4", epoch)
		assert.ErrorIs(t, err, store.ErrInviteInvalid)

		members, err := s.ListMembers(ctx, "w1")
		require.NoError(t, err)
		assert.Len(t, members, 4)
	})

	t.Run("ConcurrentRedeemersCannotExceedMaxUses", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "race", 1, epoch.Add(time.Hour))

		const redeemers = 8
		errs := make([]error, redeemers)
		var wg sync.WaitGroup
		for i := range redeemers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, errs[i] = consume(s, "race", fmt.Sprintf("user%d", i), epoch)
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, store.ErrInviteInvalid)
		}
		assert.Equal(t, 1, wins)

		inv, err := s.GetInvite(ctx, "w1", "inv-race")
		require.NoError(t, err)
		assert.Equal(t, 1, inv.UseCount)
		members, err := s.ListMembers(ctx, "w1")
		require.NoError(t, err)
		assert.Len(t, members, 2)
	})

	t.Run("ActiveMemberDoesNotSpendUse", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "once", 1, epoch.Add(time.Hour))

		_, m, err := consume(s, "once", "alice", epoch)
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, m.Role)

		inv, err := s.GetInvite(ctx, "w1", "inv-once")
		require.NoError(t, err)
		assert.Equal(t, 0, inv.UseCount)
	})

	t.Run("ExpiredRevokedAndWrongCode", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "old", 5, epoch.Add(-time.Minute))
		seedInvite(t, s, "w1", "gone", 5, epoch.Add(time.Hour))
		seedInvite(t, s, "w1", "good", 5, epoch.Add(time.Hour))

		_, _, err := consume(s, "old", "bob", epoch)
		assert.ErrorIs(t, err, store.ErrInviteInvalid)

		_, err = s.RevokeInvite(ctx, "w1", "inv-gone", epoch)
		require.NoError(t, err)
		_, _, err = consume(s, "gone", "bob", epoch)
		assert.ErrorIs(t, err, store.ErrInviteInvalid)

		_, _, err = s.ConsumeInvite(ctx, store.ConsumeRequest{Slug: "good", CodeHash: "wrong", UserID: "bob", MemberID: "m-bob", Now: epoch})
		assert.ErrorIs(t, err, store.ErrInviteInvalid)

		_, _, err = consume(s, "missing", "bob", epoch)
		assert.ErrorIs(t, err, store.ErrInviteInvalid)
	})

	t.Run("RevokeIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "x", 1, epoch.Add(time.Hour))

		first, err := s.RevokeInvite(ctx, "w1", "inv-x", epoch)
		require.NoError(t, err)
		second, err := s.RevokeInvite(ctx, "w1", "inv-x", epoch.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, second.RevokedAt)
		assert.True(t, first.RevokedAt.Equal(*second.RevokedAt))

		_, err = s.RevokeInvite(ctx, "w2", "inv-x", epoch)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("RemovedMemberIsReactivated", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "first", 1, epoch.Add(time.Hour))
		seedInvite(t, s, "w1", "second", 1, epoch.Add(time.Hour))

		_, m, err := consume(s, "first", "bob", epoch)
		require.NoError(t, err)
		require.NoError(t, s.RemoveMember(ctx, "w1", m.ID, epoch))

		removed, err := s.GetMember(ctx, "w1", "bob")
		require.NoError(t, err)
		assert.False(t, removed.Active())

		_, again, err := consume(s, "second", "bob", epoch.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, m.ID, again.ID)
		assert.True(t, again.Active())

		got, err := s.GetMember(ctx, "w1", "bob")
		require.NoError(t, err)
		assert.True(t, got.Active())
	})

	t.Run("UpdateMember", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		seedInvite(t, s, "w1", "x", 1, epoch.Add(time.Hour))
		_, m, err := consume(s, "x", "bob", epoch)
		require.NoError(t, err)

		m.Role = model.RoleViewer
		m.CanInvite = true
		require.NoError(t, s.UpdateMember(ctx, *m))

		got, err := s.GetMemberByID(ctx, "w1", m.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleViewer, got.Role)
		assert.True(t, got.CanInvite)

		m.ID = "unknown"
		assert.ErrorIs(t, s.UpdateMember(ctx, *m), store.ErrNotFound)
	})

	t.Run("ListInvitesNewestFirst", func(t *testing.T) {
		s := newStore(t)
		seedWorkspace(t, s, "w1", "alice")
		older := seedInvite(t, s, "w1", "a", 1, epoch.Add(time.Hour))
		newer := older
		newer.ID, newer.Slug, newer.CreatedAt = "inv-b", "b", epoch.Add(time.Minute)
		require.NoError(t, s.CreateInvite(ctx, newer))

		list, err := s.ListInvites(ctx, "w1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "inv-b", list[0].ID)
		assert.Equal(t, "inv-a", list[1].ID)
	})
}
