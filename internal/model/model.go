package model

import (
	"fmt"
	"time"
)

// Role is a member's role inside a workspace.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole validates a role string received from a client.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Workspace is a shared container of the four collections. Revision covers
// all of them together and is the only optimistic-lock token.
type Workspace struct {
	ID              string    `json:"id" dynamodbav:"workspace_id"`
	Slug            string    `json:"slug" dynamodbav:"slug"`
	DisplayName     string    `json:"displayName" dynamodbav:"display_name"`
	Revision        int64     `json:"revision" dynamodbav:"revision"`
	CreatedByUserID string    `json:"createdByUserId" dynamodbav:"created_by_user_id"`
	CreatedAt       time.Time `json:"createdAt" dynamodbav:"created_at"`
}

// WorkspaceSummary is the listing row a member sees for one workspace.
type WorkspaceSummary struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	CanInvite   bool   `json:"canInvite"`
	Revision    int64  `json:"revision"`
}

// Member links a user to a workspace. RemovedAt marks a soft delete; a
// removed member counts as absent for every authorization check.
type Member struct {
	ID          string     `json:"id" dynamodbav:"member_id"`
	WorkspaceID string     `json:"workspaceId" dynamodbav:"workspace_id"`
	UserID      string     `json:"userId" dynamodbav:"user_id"`
	Role        Role       `json:"role" dynamodbav:"role"`
	CanInvite   bool       `json:"canInvite" dynamodbav:"can_invite"`
	JoinedAt    time.Time  `json:"joinedAt" dynamodbav:"joined_at"`
	RemovedAt   *time.Time `json:"removedAt,omitempty" dynamodbav:"removed_at,omitempty"`
}

// Active reports whether the membership grants any access.
func (m *Member) Active() bool {
	return m != nil && m.RemovedAt == nil
}

// Invite grants a role in a workspace to whoever knows both the public slug
// and the secret code. Only a keyed hash of the code is kept.
type Invite struct {
	ID                string     `json:"id" dynamodbav:"invite_id"`
	WorkspaceID       string     `json:"workspaceId" dynamodbav:"workspace_id"`
	Slug              string     `json:"slug" dynamodbav:"slug"`
	CodeHash          string     `json:"-" dynamodbav:"code_hash"`
	Role              Role       `json:"role" dynamodbav:"role"`
	ExpiresAt         time.Time  `json:"expiresAt" dynamodbav:"expires_at"`
	MaxUses           int        `json:"maxUses" dynamodbav:"max_uses"`
	UseCount          int        `json:"useCount" dynamodbav:"use_count"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty" dynamodbav:"revoked_at,omitempty"`
	CreatedByMemberID string     `json:"createdByMemberId" dynamodbav:"created_by_member_id"`
	UsedByUserID      string     `json:"usedByUserId,omitempty" dynamodbav:"used_by_user_id,omitempty"`
	CreatedAt         time.Time  `json:"createdAt" dynamodbav:"created_at"`
}

// Usable reports whether the invite can still be redeemed at now.
func (i *Invite) Usable(now time.Time) bool {
	return i.RevokedAt == nil && i.ExpiresAt.After(now) && i.UseCount < i.MaxUses
}
