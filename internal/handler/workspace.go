package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/workspace"
)

// WorkspaceHandler serves workspace listing, creation, collection reads and
// writes, and member management.
type WorkspaceHandler struct {
	service   *workspace.Service
	jwtSecret string
}

// NewWorkspaceHandler creates a new WorkspaceHandler.
func NewWorkspaceHandler(s *workspace.Service, jwtSecret string) *WorkspaceHandler {
	return &WorkspaceHandler{service: s, jwtSecret: jwtSecret}
}

type createWorkspaceRequest struct {
	DisplayName string             `json:"displayName" validate:"required,max=80"`
	Collections *model.Collections `json:"collections"`
}

type writeCollectionRequest struct {
	BaseRevision *int64       `json:"baseRevision" validate:"required,min=0"`
	Items        []model.Item `json:"items" validate:"required,max=1000"`
}

// ListWorkspaces returns the caller's workspaces.
func (h *WorkspaceHandler) ListWorkspaces(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	list, err := h.service.List(ctx, userID)
	if err != nil {
		return errorFor(req, err), nil
	}
	if list == nil {
		list = []model.WorkspaceSummary{}
	}
	return jsonResponse(http.StatusOK, map[string]any{"workspaces": list}), nil
}

// CreateWorkspace creates a workspace owned by the caller, optionally seeded
// with collections uploaded from the caller's local instance.
func (h *WorkspaceHandler) CreateWorkspace(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	var body createWorkspaceRequest
	if err := decode(req, &body); err != nil {
		return errorFor(req, err), nil
	}
	ws, err := h.service.Create(ctx, userID, body.DisplayName, body.Collections)
	if err != nil {
		return errorFor(req, err), nil
	}
	return jsonResponse(http.StatusCreated, map[string]any{"workspace": ws}), nil
}

// ReadCollections returns the workspace snapshot, or {unchanged, revision}
// when sinceRevision is current.
func (h *WorkspaceHandler) ReadCollections(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	var since *int64
	if raw := req.QueryStringParameters["sinceRevision"]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return errorFor(req, fmt.Errorf("%w: sinceRevision must be a non-negative integer", model.ErrValidation)), nil
		}
		since = &n
	}

	res, err := h.service.ReadCollections(ctx, userID, req.PathParameters["id"], since)
	if err != nil {
		return errorFor(req, err), nil
	}
	if res.Unchanged {
		return jsonResponse(http.StatusOK, map[string]any{"unchanged": true, "revision": res.Snapshot.Revision}), nil
	}
	snap := model.Snapshot{Revision: res.Snapshot.Revision, Collections: res.Snapshot.Collections.Clone()}
	return jsonResponse(http.StatusOK, snap), nil
}

// WriteCollection replaces one collection if baseRevision is current.
func (h *WorkspaceHandler) WriteCollection(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorFor(req, err), nil
	}
	key, err := model.ParseCollectionKey(req.PathParameters["key"])
	if err != nil {
		return errorFor(req, err), nil
	}
	var body writeCollectionRequest
	if err := decode(req, &body); err != nil {
		return errorFor(req, err), nil
	}

	rev, err := h.service.WriteCollection(ctx, userID, req.PathParameters["id"], key, *body.BaseRevision, body.Items)
	if err != nil {
		return errorFor(req, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"ok": true, "revision": rev}), nil
}
