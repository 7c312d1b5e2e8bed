package handler_test

import (
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/model"
)

func memberReq(userID, method, wsID, memberID, body string) events.APIGatewayProxyRequest {
	req := asUser(userID, method, "/workspaces/"+wsID+"/members/"+memberID, body)
	req.PathParameters["id"] = wsID
	req.PathParameters["memberId"] = memberID
	return req
}

func listMembers(t *testing.T, h handlers, userID, wsID string) []model.Member {
	t.Helper()
	req := asUser(userID, http.MethodGet, "/workspaces/"+wsID+"/members", "")
	req.PathParameters["id"] = wsID
	resp := call(t, h.workspaces.ListMembers, req, http.StatusOK)
	var out struct {
		Members []model.Member `json:"members"`
	}
	decodeBody(t, resp, &out)
	return out.Members
}

func memberOf(t *testing.T, members []model.Member, userID string) model.Member {
	t.Helper()
	for _, m := range members {
		if m.UserID == userID {
			return m
		}
	}
	t.Fatalf("No member for user %s", userID)
	return model.Member{}
}

func TestMemberHandler_UpdateAndRemove(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)
	joinAs(t, h, ws.ID, "viewer-1", "viewer")

	members := listMembers(t, h, testUserID, ws.ID)
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
	viewer := memberOf(t, members, "viewer-1")

	resp := call(t, h.workspaces.UpdateMember,
		memberReq(testUserID, http.MethodPatch, ws.ID, viewer.ID, `{"role":"editor","canInvite":true}`), http.StatusOK)
	var out struct {
		Member model.Member `json:"member"`
	}
	decodeBody(t, resp, &out)
	if out.Member.Role != model.RoleEditor || !out.Member.CanInvite {
		t.Errorf("Unexpected member after patch: %s", resp.Body)
	}

	call(t, h.workspaces.UpdateMember, memberReq(testUserID, http.MethodPatch, ws.ID, viewer.ID, `{"role":"owner"}`), http.StatusBadRequest)
	call(t, h.workspaces.RemoveMember, memberReq(testUserID, http.MethodDelete, ws.ID, viewer.ID, ""), http.StatusNoContent)
	call(t, h.workspaces.RemoveMember, memberReq(testUserID, http.MethodDelete, ws.ID, viewer.ID, ""), http.StatusNotFound)
}

func TestMemberHandler_SelfAndNonAdmin(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)
	joinAs(t, h, ws.ID, "editor-1", "editor")
	members := listMembers(t, h, testUserID, ws.ID)
	owner := memberOf(t, members, testUserID)
	editor := memberOf(t, members, "editor-1")

	call(t, h.workspaces.UpdateMember, memberReq(testUserID, http.MethodPatch, ws.ID, owner.ID, `{"role":"viewer"}`), http.StatusForbidden)
	call(t, h.workspaces.RemoveMember, memberReq(testUserID, http.MethodDelete, ws.ID, owner.ID, ""), http.StatusForbidden)
	call(t, h.workspaces.RemoveMember, memberReq("editor-1", http.MethodDelete, ws.ID, owner.ID, ""), http.StatusForbidden)
	call(t, h.workspaces.UpdateMember, memberReq("editor-1", http.MethodPatch, ws.ID, editor.ID, `{"canInvite":true}`), http.StatusForbidden)

	req := asUser("editor-1", http.MethodGet, "/workspaces/"+ws.ID+"/members", "")
	req.PathParameters["id"] = ws.ID
	call(t, h.workspaces.ListMembers, req, http.StatusForbidden)
}

func TestMemberHandler_Leave(t *testing.T) {
	h := newHandlers(t)
	ws := createWorkspace(t, h, testUserID, `{"displayName":"Team"}`)
	joinAs(t, h, ws.ID, "editor-1", "editor")

	leave := func(userID string) events.APIGatewayProxyRequest {
		req := asUser(userID, http.MethodPost, "/workspaces/"+ws.ID+"/leave", "")
		req.PathParameters["id"] = ws.ID
		return req
	}
	call(t, h.workspaces.Leave, leave(testUserID), http.StatusBadRequest)
	call(t, h.workspaces.Leave, leave("editor-1"), http.StatusNoContent)
	call(t, h.workspaces.ReadCollections, readReq("editor-1", ws.ID, ""), http.StatusForbidden)
	call(t, h.workspaces.Leave, leave(testUserID), http.StatusNoContent)
}
