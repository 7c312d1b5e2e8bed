// Package memory implements store.Store with in-process maps. It is used by
// tests and by DEV_MODE runs that have no database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

type workspaceRecord struct {
	ws          model.Workspace
	collections model.Collections
}

// Store keeps everything behind a single mutex, which makes every method
// trivially atomic.
type Store struct {
	mu         sync.RWMutex
	workspaces map[string]*workspaceRecord
	slugs      map[string]string                   // workspace slug -> id
	members    map[string]map[string]*model.Member // workspace id -> user id -> member
	invites    map[string]*model.Invite            // invite id -> invite
	inviteSlug map[string]string                   // invite slug -> invite id
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		workspaces: make(map[string]*workspaceRecord),
		slugs:      make(map[string]string),
		members:    make(map[string]map[string]*model.Member),
		invites:    make(map[string]*model.Invite),
		inviteSlug: make(map[string]string),
	}
}

func (s *Store) CreateWorkspace(ctx context.Context, ws model.Workspace, owner model.Member, seed model.Collections) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.slugs[ws.Slug]; taken {
		return store.ErrSlugTaken
	}
	ws.Revision = 0
	s.workspaces[ws.ID] = &workspaceRecord{ws: ws, collections: seed.Clone()}
	s.slugs[ws.Slug] = ws.ID
	o := owner
	s.members[ws.ID] = map[string]*model.Member{owner.UserID: &o}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	ws := rec.ws
	return &ws, nil
}

func (s *Store) ListWorkspacesForUser(ctx context.Context, userID string) ([]model.WorkspaceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.WorkspaceSummary{}
	for wsID, byUser := range s.members {
		m, ok := byUser[userID]
		if !ok || !m.Active() {
			continue
		}
		rec := s.workspaces[wsID]
		out = append(out, model.WorkspaceSummary{
			ID:          rec.ws.ID,
			Slug:        rec.ws.Slug,
			DisplayName: rec.ws.DisplayName,
			Role:        m.Role,
			CanInvite:   m.CanInvite,
			Revision:    rec.ws.Revision,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (s *Store) ReadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &model.Snapshot{Revision: rec.ws.Revision, Collections: rec.collections.Clone()}, nil
}

func (s *Store) WriteCollection(ctx context.Context, workspaceID string, key model.CollectionKey, baseRevision int64, items []model.Item) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.workspaces[workspaceID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if rec.ws.Revision != baseRevision {
		return 0, &store.ConflictError{
			BaseRevision: baseRevision,
			Current:      model.Snapshot{Revision: rec.ws.Revision, Collections: rec.collections.Clone()},
		}
	}
	rec.collections.Set(key, model.CloneItems(items))
	rec.ws.Revision++
	return rec.ws.Revision, nil
}

func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[workspaceID][userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetMemberByID(ctx context.Context, workspaceID, memberID string) (*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.members[workspaceID] {
		if m.ID == memberID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListMembers(ctx context.Context, workspaceID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.workspaces[workspaceID]; !ok {
		return nil, store.ErrNotFound
	}
	out := []model.Member{}
	for _, m := range s.members[workspaceID] {
		if m.Active() {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) UpdateMember(ctx context.Context, m model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.members[m.WorkspaceID][m.UserID]
	if !ok || existing.ID != m.ID {
		return store.ErrNotFound
	}
	existing.Role = m.Role
	existing.CanInvite = m.CanInvite
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, workspaceID, memberID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.members[workspaceID] {
		if m.ID == memberID && m.Active() {
			t := at
			m.RemovedAt = &t
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateInvite(ctx context.Context, inv model.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[inv.WorkspaceID]; !ok {
		return store.ErrNotFound
	}
	if _, taken := s.inviteSlug[inv.Slug]; taken {
		return store.ErrSlugTaken
	}
	cp := inv
	s.invites[inv.ID] = &cp
	s.inviteSlug[inv.Slug] = inv.ID
	return nil
}

func (s *Store) ListInvites(ctx context.Context, workspaceID string) ([]model.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Invite{}
	for _, inv := range s.invites {
		if inv.WorkspaceID == workspaceID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetInvite(ctx context.Context, workspaceID, inviteID string) (*model.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invites[inviteID]
	if !ok || inv.WorkspaceID != workspaceID {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) RevokeInvite(ctx context.Context, workspaceID, inviteID string, at time.Time) (*model.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[inviteID]
	if !ok || inv.WorkspaceID != workspaceID {
		return nil, store.ErrNotFound
	}
	if inv.RevokedAt == nil {
		t := at
		inv.RevokedAt = &t
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) ConsumeInvite(ctx context.Context, req store.ConsumeRequest) (*model.Workspace, *model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.inviteSlug[req.Slug]
	if !ok {
		return nil, nil, store.ErrInviteInvalid
	}
	inv := s.invites[id]
	if err := store.CheckRedeemable(inv, req.CodeHash, req.Now); err != nil {
		return nil, nil, err
	}
	rec, ok := s.workspaces[inv.WorkspaceID]
	if !ok {
		return nil, nil, store.ErrInviteInvalid
	}

	byUser := s.members[inv.WorkspaceID]
	member, consumed := store.Redeem(inv, byUser[req.UserID], req)
	if consumed {
		byUser[req.UserID] = &member
		inv.UseCount++
		inv.UsedByUserID = req.UserID
	}
	ws := rec.ws
	return &ws, &member, nil
}
