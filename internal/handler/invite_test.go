package handler_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/model"
)

type issuedInvite struct {
	Invite model.Invite `json:"invite"`
	Code   string       `json:"code"`
	URL    string       `json:"url"`
}

func inviteReq(userID, method, wsID, body string) events.APIGatewayProxyRequest {
	req := asUser(userID, method, "/workspaces/"+wsID+"/invites", body)
	req.PathParameters["id"] = wsID
	return req
}

func issue(t *testing.T, h handlers, userID, wsID, body string) issuedInvite {
	t.Helper()
	resp := call(t, h.invites.CreateInvite, inviteReq(userID, http.MethodPost, wsID, body), http.StatusCreated)
	var out issuedInvite
	decodeBody(t, resp, &out)
	return out
}

func consumeReq(userID, slug, code string) events.APIGatewayProxyRequest {
	return asUser(userID, http.MethodPost, "/workspaces/invites/consume", `{"slug":"`+slug+`","code":"`+code+`"}`)
}

// joinAs issues a single-use invite as the test user and redeems it as userID.
func joinAs(t *testing.T, h handlers, wsID, userID, role string) {
	t.Helper()
	inv := issue(t, h, testUserID, wsID, `{"role":"`+role+`","expiresInHours":1,"maxUses":1}`)
	call(t, h.invites.ConsumeInvite, consumeReq(userID, inv.Invite.Slug, inv.Code), http.StatusOK)
}

func TestInviteHandler_IssueAndConsume(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)

	inv := issue(t, h, testUserID, ws.ID, `{"role":"editor","expiresInHours":24,"maxUses":1}`)
	if inv.Code == "" || inv.Invite.Slug == "" {
		t.Fatalf("Expected code and slug, got %+v", inv)
	}
	if !strings.HasSuffix(inv.URL, "/invite/"+inv.Invite.Slug) || strings.Contains(inv.URL, inv.Code) {
		t.Errorf("Unexpected invite URL %q", inv.URL)
	}

	resp := call(t, h.invites.ConsumeInvite, consumeReq("newcomer", inv.Invite.Slug, inv.Code), http.StatusOK)
	var joined struct {
		Workspace model.Workspace `json:"workspace"`
	}
	decodeBody(t, resp, &joined)
	if joined.Workspace.ID != ws.ID {
		t.Errorf("Expected workspace %s, got %s", ws.ID, joined.Workspace.ID)
	}

	resp = call(t, h.invites.ConsumeInvite, consumeReq("latecomer", inv.Invite.Slug, inv.Code), http.StatusBadRequest)
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "invite is invalid or has expired" {
		t.Errorf("Unexpected error message %q", body["error"])
	}
}

func TestInviteHandler_ListNeverLeaksSecrets(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)
	inv := issue(t, h, testUserID, ws.ID, `{"role":"viewer","expiresInHours":1,"maxUses":3,"code":"correct-horse"}`)
	if inv.Code != "correct-horse" {
		t.Fatalf("Expected supplied code, got %q", inv.Code)
	}

	resp := call(t, h.invites.ListInvites, inviteReq(testUserID, http.MethodGet, ws.ID, ""), http.StatusOK)
	if strings.Contains(resp.Body, "correct-horse") || strings.Contains(resp.Body, "codeHash") {
		t.Errorf("Invite listing leaks secrets: %s", resp.Body)
	}
}

func TestInviteHandler_Validation(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)

	bodies := []string{
		`{"role":"editor","expiresInHours":0,"maxUses":1}`,
		`{"role":"editor","expiresInHours":337,"maxUses":1}`,
		`{"role":"editor","expiresInHours":1,"maxUses":101}`,
		`{"role":"owner","expiresInHours":1,"maxUses":1}`,
		`{"role":"editor","expiresInHours":1,"maxUses":1,"code":"short"}`,
	}
	for _, body := range bodies {
		call(t, h.invites.CreateInvite, inviteReq(testUserID, http.MethodPost, ws.ID, body), http.StatusBadRequest)
	}
	call(t, h.invites.ConsumeInvite, asUser("u", http.MethodPost, "/workspaces/invites/consume", `{"slug":""}`), http.StatusBadRequest)
}

func TestInviteHandler_Permissions(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)
	joinAs(t, h, ws.ID, "viewer-1", "viewer")

	call(t, h.invites.CreateInvite, inviteReq("viewer-1", http.MethodPost, ws.ID, `{"role":"viewer","expiresInHours":1,"maxUses":1}`), http.StatusForbidden)
	call(t, h.invites.ListInvites, inviteReq("viewer-1", http.MethodGet, ws.ID, ""), http.StatusForbidden)
	call(t, h.invites.ListInvites, inviteReq(testUserID, http.MethodGet, "missing", ""), http.StatusNotFound)
}

func TestInviteHandler_Revoke(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)
	inv := issue(t, h, testUserID, ws.ID, `{"role":"viewer","expiresInHours":1,"maxUses":5}`)

	req := asUser(testUserID, http.MethodPost, "/workspaces/"+ws.ID+"/invites/"+inv.Invite.ID+"/revoke", "")
	req.PathParameters["id"] = ws.ID
	req.PathParameters["inviteId"] = inv.Invite.ID
	resp := call(t, h.invites.RevokeInvite, req, http.StatusOK)
	var out struct {
		Invite model.Invite `json:"invite"`
	}
	decodeBody(t, resp, &out)
	if out.Invite.RevokedAt == nil {
		t.Fatalf("Expected revokedAt, got %s", resp.Body)
	}

	call(t, h.invites.RevokeInvite, req, http.StatusOK)
	call(t, h.invites.ConsumeInvite, consumeReq("someone", inv.Invite.Slug, inv.Code), http.StatusBadRequest)
}
