package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"

	"github.com/jun/gophsync/internal/access"
	"github.com/jun/gophsync/internal/auth"
	"github.com/jun/gophsync/internal/invite"
	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

// ErrUnauthorized is returned when a request carries no valid session.
var ErrUnauthorized = errors.New("unauthorized")

var validate = validator.New(validator.WithRequiredStructEnabled())

// GetUserID extracts the user ID from the Authorization header or session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	getHeader := func(name string) string {
		for k, v := range req.Headers {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return ""
	}

	tokenString := ""
	if authHeader := getHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	// Cookie format: session_token=xxx; ...
	if tokenString == "" {
		for _, part := range strings.Split(getHeader("Cookie"), ";") {
			part = strings.TrimSpace(part)
			if v, ok := strings.CutPrefix(part, auth.CookieName+"="); ok {
				tokenString = v
				break
			}
		}
	}

	if tokenString == "" {
		return "", fmt.Errorf("%w: no authorization token found", ErrUnauthorized)
	}
	userID, err := auth.ParseToken(jwtSecret, tokenString)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return userID, nil
}

// decode unmarshals the request body into dst and runs its validate tags.
func decode(req events.APIGatewayProxyRequest, dst any) error {
	if err := json.Unmarshal([]byte(req.Body), dst); err != nil {
		return fmt.Errorf("%w: invalid request body", model.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s=%s", model.ErrValidation, fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return nil
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		logutils.Log.WithError(err).Error("marshal response")
		return errorResponse(http.StatusInternalServerError, "internal error")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	return jsonResponse(status, map[string]string{"error": msg})
}

func noContent() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
}

// conflictBody is the 409 payload: the current state the writer must rebase on.
type conflictBody struct {
	Error    string `json:"error"`
	Revision int64  `json:"revision"`
	model.Collections
}

// statusFor maps a domain error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrRevisionConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrValidation), errors.Is(err, store.ErrInviteInvalid):
		return http.StatusBadRequest
	case errors.Is(err, invite.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// errorFor renders err. Unexpected errors are logged and hidden.
func errorFor(req events.APIGatewayProxyRequest, err error) events.APIGatewayProxyResponse {
	status := statusFor(err)
	switch status {
	case http.StatusConflict:
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			return jsonResponse(status, conflictBody{
				Error:       "revision conflict",
				Revision:    conflict.Current.Revision,
				Collections: conflict.Current.Collections.Clone(),
			})
		}
	case http.StatusInternalServerError:
		logutils.Log.WithFields(logutils.Fields{
			"method": req.HTTPMethod,
			"path":   req.Path,
		}).WithError(err).Error("request failed")
		return errorResponse(status, "internal error")
	case http.StatusUnauthorized:
		return errorResponse(status, "unauthorized")
	}
	if errors.Is(err, store.ErrInviteInvalid) {
		return errorResponse(status, store.ErrInviteInvalid.Error())
	}
	return errorResponse(status, err.Error())
}
