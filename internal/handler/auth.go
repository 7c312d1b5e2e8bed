package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/jun/gophsync/internal/auth"
	"github.com/jun/gophsync/internal/logutils"
)

// AuthHandler handles session issuance for development.
type AuthHandler struct {
	jwtSecret   string
	frontendURL string
	crossSite   bool
}

// NewAuthHandler creates a new AuthHandler. crossSite selects SameSite=None
// cookies for deployments where the frontend and API live on different sites.
func NewAuthHandler(jwtSecret, frontendURL string, crossSite bool) *AuthHandler {
	return &AuthHandler{jwtSecret: jwtSecret, frontendURL: frontendURL, crossSite: crossSite}
}

// DemoLogin creates a fresh demo user and returns its session token, both as
// a cookie and in the body so non-browser clients can use it.
func (h *AuthHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := "demo-user-" + uuid.NewString()
	token, err := auth.IssueToken(h.jwtSecret, userID, auth.SessionTTL)
	if err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("issue demo token: %w", err)
	}
	logutils.Log.WithField("user_id", userID).Info("demo login")

	resp := jsonResponse(http.StatusOK, map[string]string{
		"userId": userID,
		"token":  token,
	})
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {auth.SessionCookie(token, h.crossSite)},
	}
	if req.QueryStringParameters["redirect"] == "true" {
		resp.StatusCode = http.StatusFound
		resp.Headers["Location"] = strings.TrimSuffix(h.frontendURL, "/") + "/?success=true"
	}
	return resp, nil
}
