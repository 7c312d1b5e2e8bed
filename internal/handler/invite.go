package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/invite"
	"github.com/jun/gophsync/internal/model"
)

// InviteHandler serves invite issuance, revocation, listing and redemption.
type InviteHandler struct {
	authority *invite.Authority
	jwtSecret string
}

// NewInviteHandler creates a new InviteHandler.
func NewInviteHandler(a *invite.Authority, jwtSecret string) *InviteHandler {
	return &InviteHandler{authority: a, jwtSecret: jwtSecret}
}

type createInviteRequest struct {
	Role           string `json:"role" validate:"required,oneof=admin editor viewer"`
	ExpiresInHours int    `json:"expiresInHours" validate:"required,min=1,max=336"`
	MaxUses        int    `json:"maxUses" validate:"required,min=1,max=100"`
	Code           string `json:"code" validate:"omitempty,min=8,max=64"`
}

type consumeInviteRequest struct {
	Slug string `json:"slug" validate:"required,max=64"`
	Code string `json:"code" validate:"required,max=64"`
}

// ListInvites returns the invites of a workspace. Hashes and codes are never included.
func (h *InviteHandler) ListInvites(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	invites, err := h.authority.List(ctx, req.PathParameters["id"], userID)
	if err != nil {
		return errorFor(req, err), nil
	}
	if invites == nil {
		invites = []model.Invite{}
	}
	return jsonResponse(http.StatusOK, map[string]any{"invites": invites}), nil
}

// CreateInvite issues an invite. The code is returned exactly once.
func (h *InviteHandler) CreateInvite(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	var body createInviteRequest
	if err := decode(req, &body); err != nil {
		return errorFor(req, err), nil
	}
	role, err := model.ParseRole(body.Role)
	if err != nil {
		return errorFor(req, err), nil
	}

	issued, err := h.authority.Issue(ctx, invite.IssueRequest{
		WorkspaceID:    req.PathParameters["id"],
		ActorUserID:    userID,
		Role:           role,
		ExpiresInHours: body.ExpiresInHours,
		MaxUses:        body.MaxUses,
		Code:           body.Code,
	})
	if err != nil {
		return errorFor(req, err), nil
	}
	return jsonResponse(http.StatusCreated, map[string]any{
		"invite": issued.Invite,
		"code":   issued.Code,
		"url":    issued.URL,
	}), nil
}

// RevokeInvite revokes an invite. Revoking twice is not an error.
func (h *InviteHandler) RevokeInvite(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	inv, err := h.authority.Revoke(ctx, req.PathParameters["id"], req.PathParameters["inviteId"], userID)
	if err != nil {
		return errorFor(req, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"invite": inv}), nil
}

// ConsumeInvite redeems slug and code for the caller.
func (h *InviteHandler) ConsumeInvite(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	var body consumeInviteRequest
	if err := decode(req, &body); err != nil {
		return errorFor(req, err), nil
	}
	ws, m, err := h.authority.Consume(ctx, body.Slug, body.Code, userID)
	if err != nil {
		return errorFor(req, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"workspace": ws,
		"member":    m,
	}), nil
}
