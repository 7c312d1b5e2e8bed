// Package workspace implements the server side of workspace access:
// creation, revision-gated collection reads and writes, and member
// management.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jun/gophsync/internal/access"
	"github.com/jun/gophsync/internal/crypto"
	"github.com/jun/gophsync/internal/metrics"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

const slugAttempts = 6

// Service enforces membership and roles in front of a store.Store.
type Service struct {
	store   store.Store
	metrics *metrics.Metrics
	now     func() time.Time
	newSlug func() (string, error)
}

// NewService creates a Service. m may be nil.
func NewService(s store.Store, m *metrics.Metrics) *Service {
	return &Service{store: s, metrics: m, now: time.Now, newSlug: crypto.NewSlug}
}

// member returns the caller's active membership. A missing workspace is
// ErrNotFound; an existing workspace without active membership is forbidden.
func (s *Service) member(ctx context.Context, workspaceID, userID string) (*model.Member, error) {
	m, err := s.store.GetMember(ctx, workspaceID, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if m.Active() {
		return m, nil
	}
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	return nil, access.ErrForbidden
}

// Create makes a workspace owned by userID, optionally seeded with the
// caller's local collections.
func (s *Service) Create(ctx context.Context, userID, displayName string, seed *model.Collections) (*model.Workspace, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || utf8.RuneCountInString(name) > model.MaxDisplayNameLength {
		return nil, fmt.Errorf("%w: displayName must be 1-%d characters", model.ErrValidation, model.MaxDisplayNameLength)
	}
	var collections model.Collections
	if seed != nil {
		collections = seed.Clone()
		if err := collections.Validate(); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	ws := model.Workspace{
		ID:              uuid.NewString(),
		DisplayName:     name,
		CreatedByUserID: userID,
		CreatedAt:       now,
	}
	owner := model.Member{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		UserID:      userID,
		Role:        model.RoleAdmin,
		CanInvite:   true,
		JoinedAt:    now,
	}
	var err error
	for attempt := 0; attempt < slugAttempts; attempt++ {
		if ws.Slug, err = s.newSlug(); err != nil {
			return nil, fmt.Errorf("generate workspace slug: %w", err)
		}
		err = s.store.CreateWorkspace(ctx, ws, owner, collections)
		if !errors.Is(err, store.ErrSlugTaken) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// List returns the workspaces the user is an active member of.
func (s *Service) List(ctx context.Context, userID string) ([]model.WorkspaceSummary, error) {
	return s.store.ListWorkspacesForUser(ctx, userID)
}

// ReadResult is either a full snapshot or, when the caller is current,
// just the revision with Unchanged set.
type ReadResult struct {
	Unchanged bool
	Snapshot  model.Snapshot
}

// ReadCollections returns the workspace snapshot. When sinceRevision equals
// the current revision no collection bodies are returned.
func (s *Service) ReadCollections(ctx context.Context, userID, workspaceID string, sinceRevision *int64) (*ReadResult, error) {
	if _, err := s.member(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	if sinceRevision != nil {
		ws, err := s.store.GetWorkspace(ctx, workspaceID)
		if err != nil {
			s.metrics.Read(metrics.ResultError)
			return nil, err
		}
		if ws.Revision == *sinceRevision {
			s.metrics.Read(metrics.ResultUnchanged)
			return &ReadResult{Unchanged: true, Snapshot: model.Snapshot{Revision: ws.Revision}}, nil
		}
	}
	snap, err := s.store.ReadSnapshot(ctx, workspaceID)
	if err != nil {
		s.metrics.Read(metrics.ResultError)
		return nil, err
	}
	s.metrics.Read(metrics.ResultOK)
	return &ReadResult{Snapshot: *snap}, nil
}

// WriteCollection replaces one collection if baseRevision is current. A
// stale base yields a *store.ConflictError carrying the current snapshot.
func (s *Service) WriteCollection(ctx context.Context, userID, workspaceID string, key model.CollectionKey, baseRevision int64, items []model.Item) (int64, error) {
	m, err := s.member(ctx, workspaceID, userID)
	if err != nil {
		return 0, err
	}
	if !access.CanWrite(m.Role) {
		return 0, access.ErrForbidden
	}
	if err := model.ValidateItems(key, items); err != nil {
		return 0, err
	}

	rev, err := s.store.WriteCollection(ctx, workspaceID, key, baseRevision, items)
	switch {
	case errors.Is(err, store.ErrRevisionConflict):
		s.metrics.Write(metrics.ResultConflict)
	case err != nil:
		s.metrics.Write(metrics.ResultError)
	default:
		s.metrics.Write(metrics.ResultOK)
	}
	return rev, err
}
