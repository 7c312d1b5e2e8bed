package workspace

import (
	"context"
	"fmt"

	"github.com/jun/gophsync/internal/access"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

// MemberPatch lists the fields an admin may change. Nil fields are kept.
type MemberPatch struct {
	Role      *model.Role
	CanInvite *bool
}

var errSelf = fmt.Errorf("%w: use leave to change your own membership", access.ErrForbidden)

// ListMembers returns active members. Admin only.
func (s *Service) ListMembers(ctx context.Context, userID, workspaceID string) ([]model.Member, error) {
	actor, err := s.member(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleAdmin {
		return nil, access.ErrForbidden
	}
	return s.store.ListMembers(ctx, workspaceID)
}

// target loads another active member the actor is allowed to manage.
func (s *Service) target(ctx context.Context, userID, workspaceID, memberID string) (actor, target *model.Member, err error) {
	actor, err = s.member(ctx, workspaceID, userID)
	if err != nil {
		return nil, nil, err
	}
	if actor.ID == memberID {
		return nil, nil, errSelf
	}
	target, err = s.store.GetMemberByID(ctx, workspaceID, memberID)
	if err != nil {
		return nil, nil, err
	}
	if !target.Active() {
		return nil, nil, store.ErrNotFound
	}
	if !access.CanManageMember(actor.Role, target.Role) {
		return nil, nil, access.ErrForbidden
	}
	return actor, target, nil
}

// UpdateMember changes another member's role and invite flag.
func (s *Service) UpdateMember(ctx context.Context, userID, workspaceID, memberID string, patch MemberPatch) (*model.Member, error) {
	actor, target, err := s.target(ctx, userID, workspaceID, memberID)
	if err != nil {
		return nil, err
	}
	if patch.Role != nil {
		if access.Weight(*patch.Role) == 0 {
			return nil, fmt.Errorf("%w: unknown role %q", model.ErrValidation, *patch.Role)
		}
		if !access.CanAssignRole(actor.Role, *patch.Role) {
			return nil, access.ErrForbidden
		}
		target.Role = *patch.Role
	}
	if patch.CanInvite != nil {
		target.CanInvite = *patch.CanInvite
	}
	if err := s.store.UpdateMember(ctx, *target); err != nil {
		return nil, err
	}
	return target, nil
}

// RemoveMember soft-deletes another member.
func (s *Service) RemoveMember(ctx context.Context, userID, workspaceID, memberID string) error {
	_, target, err := s.target(ctx, userID, workspaceID, memberID)
	if err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, workspaceID, target.ID, s.now().UTC())
}

// Leave removes the caller's own membership. The last admin cannot leave
// while anyone else is still a member.
func (s *Service) Leave(ctx context.Context, userID, workspaceID string) error {
	m, err := s.member(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if m.Role == model.RoleAdmin {
		members, err := s.store.ListMembers(ctx, workspaceID)
		if err != nil {
			return err
		}
		admins := 0
		for _, other := range members {
			if other.Role == model.RoleAdmin {
				admins++
			}
		}
		if admins == 1 && len(members) > 1 {
			return fmt.Errorf("%w: promote another admin before leaving", model.ErrValidation)
		}
	}
	return s.store.RemoveMember(ctx, workspaceID, m.ID, s.now().UTC())
}
