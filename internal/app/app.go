package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/crypto"
	"github.com/jun/gophsync/internal/handler"
	"github.com/jun/gophsync/internal/invite"
	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/metrics"
	"github.com/jun/gophsync/internal/store"
	"github.com/jun/gophsync/internal/workspace"
)

type handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// Deps are the resolved dependencies an App is built from.
type Deps struct {
	Store            store.Store
	Hasher           crypto.Hasher
	Metrics          *metrics.Metrics
	JWTSecret        string
	APIGatewaySecret string
}

// App holds the dependencies for the Lambda function.
type App struct {
	cfg              *config.Config
	authHandler      *handler.AuthHandler
	workspaceHandler *handler.WorkspaceHandler
	inviteHandler    *handler.InviteHandler
	metrics          *metrics.Metrics
	apiGatewaySecret string
	closers          []func() error
}

// New builds an App from already constructed dependencies.
func New(cfg *config.Config, deps Deps) *App {
	service := workspace.NewService(deps.Store, deps.Metrics)
	authority := invite.NewAuthority(deps.Store, deps.Hasher, invite.Options{
		BaseURL:           cfg.PublicBaseURL,
		AttemptsPerMinute: cfg.Invites.AttemptsPerMinute,
		AttemptBurst:      cfg.Invites.AttemptBurst,
		Metrics:           deps.Metrics,
	})
	return &App{
		cfg:              cfg,
		authHandler:      handler.NewAuthHandler(deps.JWTSecret, cfg.FrontendURL, !cfg.DevMode),
		workspaceHandler: handler.NewWorkspaceHandler(service, deps.JWTSecret),
		inviteHandler:    handler.NewInviteHandler(authority, deps.JWTSecret),
		metrics:          deps.Metrics,
		apiGatewaySecret: deps.APIGatewaySecret,
	}
}

// Close releases backend connections.
func (app *App) Close() error {
	for _, c := range app.closers {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	logutils.Log.WithFields(logutils.Fields{"method": method, "path": path}).Debug("request")

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Only CloudFront knows the origin secret.
	if !app.cfg.DevMode && header(req, "X-Origin-Verify") != app.apiGatewaySecret {
		logutils.Log.WithFields(logutils.Fields{"method": method, "path": path}).Warn("missing or invalid X-Origin-Verify header")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path = strings.TrimPrefix(path, "/api")

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}
	if req.QueryStringParameters == nil {
		req.QueryStringParameters = make(map[string]string)
	}

	route, h := app.match(method, path, req.PathParameters)
	if h == nil {
		return app.corsResponse(events.APIGatewayProxyResponse{
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("Not Found: %s %s", method, path),
		}), nil
	}

	start := time.Now()
	resp := must(h(ctx, req))
	app.metrics.Since(route, start)
	return app.corsResponse(resp), nil
}

// match resolves method and path to a handler, filling params from the path
// segments. The returned route name is the metric label.
func (app *App) match(method, path string, params map[string]string) (string, handlerFunc) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 2 && parts[0] == "auth" && parts[1] == "demo-login" && method == http.MethodGet {
		if !app.cfg.DevMode {
			return "", nil
		}
		return "GET /auth/demo-login", app.authHandler.DemoLogin
	}
	if parts[0] != "workspaces" {
		return "", nil
	}

	switch len(parts) {
	case 1:
		switch method {
		case http.MethodGet:
			return "GET /workspaces", app.workspaceHandler.ListWorkspaces
		case http.MethodPost:
			return "POST /workspaces", app.workspaceHandler.CreateWorkspace
		}
		return "", nil
	case 3:
		if parts[1] == "invites" && parts[2] == "consume" && method == http.MethodPost {
			return "POST /workspaces/invites/consume", app.inviteHandler.ConsumeInvite
		}
	}

	if len(parts) < 3 {
		return "", nil
	}
	params["id"] = parts[1]
	resource := parts[2]

	switch {
	case len(parts) == 3 && resource == "collections" && method == http.MethodGet:
		return "GET /workspaces/{id}/collections", app.workspaceHandler.ReadCollections
	case len(parts) == 4 && resource == "collections" && method == http.MethodPut:
		params["key"] = parts[3]
		return "PUT /workspaces/{id}/collections/{key}", app.workspaceHandler.WriteCollection

	case len(parts) == 3 && resource == "invites" && method == http.MethodGet:
		return "GET /workspaces/{id}/invites", app.inviteHandler.ListInvites
	case len(parts) == 3 && resource == "invites" && method == http.MethodPost:
		return "POST /workspaces/{id}/invites", app.inviteHandler.CreateInvite
	case len(parts) == 5 && resource == "invites" && parts[4] == "revoke" && method == http.MethodPost:
		params["inviteId"] = parts[3]
		return "POST /workspaces/{id}/invites/{inviteId}/revoke", app.inviteHandler.RevokeInvite

	case len(parts) == 3 && resource == "members" && method == http.MethodGet:
		return "GET /workspaces/{id}/members", app.workspaceHandler.ListMembers
	case len(parts) == 4 && resource == "members" && method == http.MethodPatch:
		params["memberId"] = parts[3]
		return "PATCH /workspaces/{id}/members/{memberId}", app.workspaceHandler.UpdateMember
	case len(parts) == 4 && resource == "members" && method == http.MethodDelete:
		params["memberId"] = parts[3]
		return "DELETE /workspaces/{id}/members/{memberId}", app.workspaceHandler.RemoveMember

	case len(parts) == 3 && resource == "leave" && method == http.MethodPost:
		return "POST /workspaces/{id}/leave", app.workspaceHandler.Leave
	}
	return "", nil
}

func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.cfg.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,DELETE,OPTIONS,PATCH"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, turning an error into a 500.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		logutils.Log.WithError(err).Error("handler error")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"internal error"}`,
			Headers:    map[string]string{"Content-Type": "application/json"},
		}
	}
	return resp
}
