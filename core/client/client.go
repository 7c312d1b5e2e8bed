// Package client is the HTTP transport between the sync engine and the
// workspace API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gsync "github.com/jun/gophsync/core/sync"
	"github.com/jun/gophsync/internal/model"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

var _ gsync.Remote = (*Client)(nil)

// APIError is a non-2xx answer other than a revision conflict.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Is makes gateway failures count as transient.
func (e *APIError) Is(target error) bool {
	if target != gsync.ErrTransient {
		return false
	}
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client talks to the workspace API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// NewClient creates a client for baseURL, e.g. "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// SetAuthToken sets the session token sent as a bearer token.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %w", gsync.ErrTransient, method, path, err)
	}
	return resp, nil
}

type conflictResponse struct {
	Revision int64 `json:"revision"`
	model.Collections
}

func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var body conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode conflict: %w", err)
		}
		return &gsync.ConflictError{Current: model.Snapshot{Revision: body.Revision, Collections: body.Collections.Clone()}}
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var body struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}

func workspacePath(id string, rest ...string) string {
	parts := append([]string{"/workspaces", url.PathEscape(id)}, rest...)
	return strings.Join(parts, "/")
}

// DemoLogin starts a session for a fresh demo user. Only servers running in
// dev mode expose it.
func (c *Client) DemoLogin(ctx context.Context) (userID, token string, err error) {
	var out struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	if err := c.call(ctx, http.MethodGet, "/auth/demo-login", nil, &out); err != nil {
		return "", "", err
	}
	return out.UserID, out.Token, nil
}

// ListWorkspaces returns the caller's memberships.
func (c *Client) ListWorkspaces(ctx context.Context) ([]model.WorkspaceSummary, error) {
	var out struct {
		Workspaces []model.WorkspaceSummary `json:"workspaces"`
	}
	if err := c.call(ctx, http.MethodGet, "/workspaces", nil, &out); err != nil {
		return nil, err
	}
	return out.Workspaces, nil
}

// CreateWorkspace creates a workspace, optionally seeded.
func (c *Client) CreateWorkspace(ctx context.Context, displayName string, seed *model.Collections) (*model.Workspace, error) {
	in := map[string]any{"displayName": displayName}
	if seed != nil {
		in["collections"] = seed.Clone()
	}
	var out struct {
		Workspace model.Workspace `json:"workspace"`
	}
	if err := c.call(ctx, http.MethodPost, "/workspaces", in, &out); err != nil {
		return nil, err
	}
	return &out.Workspace, nil
}

// ReadCollections reads the workspace snapshot. With sinceRevision set, an
// unchanged workspace answers with only its revision.
func (c *Client) ReadCollections(ctx context.Context, workspaceID string, sinceRevision *int64) (*gsync.ReadResult, error) {
	path := workspacePath(workspaceID, "collections")
	if sinceRevision != nil {
		path += "?sinceRevision=" + strconv.FormatInt(*sinceRevision, 10)
	}
	var out struct {
		Unchanged bool  `json:"unchanged"`
		Revision  int64 `json:"revision"`
		model.Collections
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Unchanged {
		return &gsync.ReadResult{Unchanged: true, Snapshot: model.Snapshot{Revision: out.Revision}}, nil
	}
	return &gsync.ReadResult{Snapshot: model.Snapshot{Revision: out.Revision, Collections: out.Collections.Clone()}}, nil
}

// WriteCollection replaces one collection if baseRevision is current. A stale
// base returns a *sync.ConflictError carrying the server state.
func (c *Client) WriteCollection(ctx context.Context, workspaceID string, key model.CollectionKey, baseRevision int64, items []model.Item) (int64, error) {
	if items == nil {
		items = []model.Item{}
	}
	in := map[string]any{"baseRevision": baseRevision, "items": items}
	var out struct {
		Revision int64 `json:"revision"`
	}
	if err := c.call(ctx, http.MethodPut, workspacePath(workspaceID, "collections", string(key)), in, &out); err != nil {
		return 0, err
	}
	return out.Revision, nil
}

// IssuedInvite is a freshly created invite. Code is only ever returned here.
type IssuedInvite struct {
	Invite model.Invite `json:"invite"`
	Code   string       `json:"code"`
	URL    string       `json:"url"`
}

// CreateInvite issues an invite to workspaceID.
func (c *Client) CreateInvite(ctx context.Context, workspaceID string, role model.Role, expiresInHours, maxUses int) (*IssuedInvite, error) {
	in := map[string]any{"role": role, "expiresInHours": expiresInHours, "maxUses": maxUses}
	var out IssuedInvite
	if err := c.call(ctx, http.MethodPost, workspacePath(workspaceID, "invites"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConsumeInvite redeems an invite for the caller.
func (c *Client) ConsumeInvite(ctx context.Context, slug, code string) (*model.Workspace, *model.Member, error) {
	in := map[string]string{"slug": slug, "code": code}
	var out struct {
		Workspace model.Workspace `json:"workspace"`
		Member    model.Member    `json:"member"`
	}
	if err := c.call(ctx, http.MethodPost, "/workspaces/invites/consume", in, &out); err != nil {
		return nil, nil, err
	}
	return &out.Workspace, &out.Member, nil
}

// ListMembers returns the workspace's members. Admins only.
func (c *Client) ListMembers(ctx context.Context, workspaceID string) ([]model.Member, error) {
	var out struct {
		Members []model.Member `json:"members"`
	}
	if err := c.call(ctx, http.MethodGet, workspacePath(workspaceID, "members"), nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// LeaveWorkspace ends the caller's membership.
func (c *Client) LeaveWorkspace(ctx context.Context, workspaceID string) error {
	return c.call(ctx, http.MethodPost, workspacePath(workspaceID, "leave"), nil, nil)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	if errors.Is(err, gsync.ErrConflict) {
		return http.StatusConflict
	}
	return 0
}
