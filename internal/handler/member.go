package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/workspace"
)

type updateMemberRequest struct {
	Role      *string `json:"role" validate:"omitempty,oneof=admin editor viewer"`
	CanInvite *bool   `json:"canInvite"`
}

// ListMembers returns the active members of a workspace. Admin only.
func (h *WorkspaceHandler) ListMembers(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	members, err := h.service.ListMembers(ctx, userID, req.PathParameters["id"])
	if err != nil {
		return errorFor(req, err), nil
	}
	if members == nil {
		members = []model.Member{}
	}
	return jsonResponse(http.StatusOK, map[string]any{"members": members}), nil
}

// UpdateMember changes another member's role or invite permission.
func (h *WorkspaceHandler) UpdateMember(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	var body updateMemberRequest
	if err := decode(req, &body); err != nil {
		return errorFor(req, err), nil
	}
	var patch workspace.MemberPatch
	if body.Role != nil {
		role, err := model.ParseRole(*body.Role)
		if err != nil {
			return errorFor(req, err), nil
		}
		patch.Role = &role
	}
	patch.CanInvite = body.CanInvite

	m, err := h.service.UpdateMember(ctx, userID, req.PathParameters["id"], req.PathParameters["memberId"], patch)
	if err != nil {
		return errorFor(req, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"member": m}), nil
}

// RemoveMember removes another member from the workspace.
func (h *WorkspaceHandler) RemoveMember(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	if err := h.service.RemoveMember(ctx, userID, req.PathParameters["id"], req.PathParameters["memberId"]); err != nil {
		return errorFor(req, err), nil
	}
	return noContent(), nil
}

// Leave removes the caller's own membership.
func (h *WorkspaceHandler) Leave(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	if err := h.service.Leave(ctx, userID, req.PathParameters["id"]); err != nil {
		return errorFor(req, err), nil
	}
	return noContent(), nil
}
