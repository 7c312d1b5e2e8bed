package handler_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/handler"
)

func TestDemoLogin_IssuesUsableSession(t *testing.T) {
	h := handler.NewAuthHandler(testJWTSecret, "http://localhost:3000", false)

	resp, err := h.DemoLogin(context.Background(), events.APIGatewayProxyRequest{})
	if err != nil {
		t.Fatalf("DemoLogin failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, resp.Body)
	}

	var body map[string]string
	decodeBody(t, resp, &body)
	if !strings.HasPrefix(body["userId"], "demo-user-") {
		t.Errorf("Unexpected demo user id %q", body["userId"])
	}

	cookies := resp.MultiValueHeaders["Set-Cookie"]
	if len(cookies) != 1 || !strings.Contains(cookies[0], "session_token="+body["token"]) {
		t.Fatalf("Expected session cookie, got %v", cookies)
	}

	userID, err := handler.GetUserID(events.APIGatewayProxyRequest{
		Headers: map[string]string{"Cookie": strings.SplitN(cookies[0], ";", 2)[0]},
	}, testJWTSecret)
	if err != nil {
		t.Fatalf("Issued cookie is not accepted: %v", err)
	}
	if userID != body["userId"] {
		t.Errorf("Expected %s, got %s", body["userId"], userID)
	}
}

func TestDemoLogin_Redirect(t *testing.T) {
	h := handler.NewAuthHandler(testJWTSecret, "https://app.example.com/", true)

	resp, err := h.DemoLogin(context.Background(), events.APIGatewayProxyRequest{
		QueryStringParameters: map[string]string{"redirect": "true"},
	})
	if err != nil {
		t.Fatalf("DemoLogin failed: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected 302, got %d", resp.StatusCode)
	}
	if resp.Headers["Location"] != "https://app.example.com/?success=true" {
		t.Errorf("Unexpected Location %q", resp.Headers["Location"])
	}
	if !strings.Contains(resp.MultiValueHeaders["Set-Cookie"][0], "SameSite=None") {
		t.Errorf("Expected cross-site cookie")
	}
}
