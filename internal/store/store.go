// Package store defines the authoritative server-side storage of workspaces,
// their revisioned collections, memberships and invites.
package store

import (
	"context"
	"time"

	"github.com/jun/gophsync/internal/model"
)

// ConsumeRequest is the input of an atomic invite redemption.
type ConsumeRequest struct {
	Slug     string
	CodeHash string
	UserID   string
	MemberID string // used when a new membership row is created
	Now      time.Time
}

// Store is implemented by every backend (memory, DynamoDB, Postgres).
type Store interface {
	// CreateWorkspace stores ws at revision 0 together with the owner
	// membership and the seed collections. Returns ErrSlugTaken on collision.
	CreateWorkspace(ctx context.Context, ws model.Workspace, owner model.Member, seed model.Collections) error

	// GetWorkspace returns the workspace metadata or ErrNotFound.
	GetWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error)

	// ListWorkspacesForUser lists workspaces where the user has an active membership.
	ListWorkspacesForUser(ctx context.Context, userID string) ([]model.WorkspaceSummary, error)

	// ReadSnapshot returns the revision and all four collections, consistently.
	ReadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error)

	// WriteCollection replaces one collection if baseRevision is current and
	// returns the incremented revision. On a stale base nothing is written and
	// a *ConflictError with the current snapshot is returned.
	WriteCollection(ctx context.Context, workspaceID string, key model.CollectionKey, baseRevision int64, items []model.Item) (int64, error)

	// GetMember returns the membership of userID, removed or not.
	GetMember(ctx context.Context, workspaceID, userID string) (*model.Member, error)

	// GetMemberByID returns a membership by its own id.
	GetMemberByID(ctx context.Context, workspaceID, memberID string) (*model.Member, error)

	// ListMembers lists active memberships of a workspace.
	ListMembers(ctx context.Context, workspaceID string) ([]model.Member, error)

	// UpdateMember stores role and invite flag changes of an existing membership.
	UpdateMember(ctx context.Context, m model.Member) error

	// RemoveMember soft-deletes a membership.
	RemoveMember(ctx context.Context, workspaceID, memberID string, at time.Time) error

	// CreateInvite stores a new invite. Returns ErrSlugTaken on collision.
	CreateInvite(ctx context.Context, inv model.Invite) error

	// ListInvites lists every invite of a workspace, newest first.
	ListInvites(ctx context.Context, workspaceID string) ([]model.Invite, error)

	// GetInvite returns one invite of a workspace.
	GetInvite(ctx context.Context, workspaceID, inviteID string) (*model.Invite, error)

	// RevokeInvite marks an invite revoked. Revoking twice keeps the first time.
	RevokeInvite(ctx context.Context, workspaceID, inviteID string, at time.Time) (*model.Invite, error)

	// ConsumeInvite validates and redeems an invite in one atomic unit,
	// creating or reactivating the membership. Any failure is ErrInviteInvalid.
	ConsumeInvite(ctx context.Context, req ConsumeRequest) (*model.Workspace, *model.Member, error)
}
