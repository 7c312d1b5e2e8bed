// Package invite issues, redeems, revokes and lists workspace invites.
package invite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/jun/gophsync/internal/access"
	"github.com/jun/gophsync/internal/crypto"
	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/metrics"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

// ErrTooManyAttempts is returned when a user redeems too often.
var ErrTooManyAttempts = errors.New("too many invite attempts, try again later")

const (
	MinExpiresInHours = 1
	MaxExpiresInHours = 336
	MinMaxUses        = 1
	MaxMaxUses        = 100

	slugAttempts = 6
)

// Options configures an Authority. Zero values pick the defaults.
type Options struct {
	BaseURL           string
	AttemptsPerMinute float64
	AttemptBurst      int
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Authority is the single place where invites change state.
type Authority struct {
	store   store.Store
	hasher  crypto.Hasher
	baseURL string
	limiter *attemptLimiter
	metrics *metrics.Metrics
	now     func() time.Time
	newSlug func() (string, error)
}

// NewAuthority creates an Authority.
func NewAuthority(s store.Store, h crypto.Hasher, opts Options) *Authority {
	if opts.AttemptsPerMinute <= 0 {
		opts.AttemptsPerMinute = 10
	}
	if opts.AttemptBurst <= 0 {
		opts.AttemptBurst = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authority{
		store:   s,
		hasher:  h,
		baseURL: opts.BaseURL,
		limiter: newAttemptLimiter(opts.AttemptsPerMinute, opts.AttemptBurst),
		metrics: opts.Metrics,
		now:     opts.Now,
		newSlug: crypto.NewSlug,
	}
}

// IssueRequest describes a new invite. Code may be empty, in which case a
// random one is generated.
type IssueRequest struct {
	WorkspaceID    string
	ActorUserID    string
	Role           model.Role
	ExpiresInHours int
	MaxUses        int
	Code           string
}

// Issued is the result of Issue. Code is only ever available here.
type Issued struct {
	Invite model.Invite
	Code   string
	URL    string
}

func (a *Authority) inviter(ctx context.Context, workspaceID, userID string) (*model.Member, error) {
	m, err := a.store.GetMember(ctx, workspaceID, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !m.Active()) {
		if _, werr := a.store.GetWorkspace(ctx, workspaceID); errors.Is(werr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, access.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if !access.CanInvite(m.Role, m.CanInvite) {
		return nil, access.ErrForbidden
	}
	return m, nil
}

// Issue creates an invite after checking that the actor may invite and may
// grant the requested role.
func (a *Authority) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	if req.ExpiresInHours < MinExpiresInHours || req.ExpiresInHours > MaxExpiresInHours {
		return nil, fmt.Errorf("%w: expiresInHours must be between %d and %d", model.ErrValidation, MinExpiresInHours, MaxExpiresInHours)
	}
	if req.MaxUses < MinMaxUses || req.MaxUses > MaxMaxUses {
		return nil, fmt.Errorf("%w: maxUses must be between %d and %d", model.ErrValidation, MinMaxUses, MaxMaxUses)
	}
	if access.Weight(req.Role) == 0 {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrValidation, req.Role)
	}

	actor, err := a.inviter(ctx, req.WorkspaceID, req.ActorUserID)
	if err != nil {
		return nil, err
	}
	if access.Weight(req.Role) > access.Weight(actor.Role) {
		return nil, access.ErrForbidden
	}

	code := req.Code
	if code == "" {
		if code, err = crypto.NewCode(); err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}
	}
	hash, err := a.hasher.Hash(ctx, code)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	inv := model.Invite{
		ID:                uuid.NewString(),
		WorkspaceID:       req.WorkspaceID,
		CodeHash:          hash,
		Role:              req.Role,
		ExpiresAt:         now.Add(time.Duration(req.ExpiresInHours) * time.Hour),
		MaxUses:           req.MaxUses,
		CreatedByMemberID: actor.ID,
		CreatedAt:         now,
	}
	for attempt := 0; ; attempt++ {
		if attempt == slugAttempts {
			return nil, fmt.Errorf("no free invite slug after %d attempts", slugAttempts)
		}
		if inv.Slug, err = a.newSlug(); err != nil {
			return nil, fmt.Errorf("generate invite slug: %w", err)
		}
		err = a.store.CreateInvite(ctx, inv)
		if !errors.Is(err, store.ErrSlugTaken) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	logutils.Log.WithFields(logutils.Fields{
		"workspace_id": inv.WorkspaceID,
		"invite_id":    inv.ID,
		"role":         inv.Role,
		"max_uses":     inv.MaxUses,
	}).Info("invite issued")
	return &Issued{Invite: inv, Code: code, URL: a.URL(inv.Slug)}, nil
}

// URL returns the public link for slug. The code is never part of it.
func (a *Authority) URL(slug string) string {
	u, err := url.JoinPath(a.baseURL, "invite", slug)
	if err != nil {
		return "/invite/" + slug
	}
	return u
}

// Consume redeems slug/code for userID and returns the joined workspace.
func (a *Authority) Consume(ctx context.Context, slug, code, userID string) (*model.Workspace, *model.Member, error) {
	now := a.now().UTC()
	if !a.limiter.allow(userID, now) {
		a.metrics.Consume(metrics.ResultLimited)
		return nil, nil, ErrTooManyAttempts
	}
	if slug == "" || code == "" {
		a.metrics.Consume(metrics.ResultInvalid)
		return nil, nil, store.ErrInviteInvalid
	}

	hash, err := a.hasher.Hash(ctx, code)
	if err != nil {
		a.metrics.Consume(metrics.ResultError)
		return nil, nil, err
	}
	ws, m, err := a.store.ConsumeInvite(ctx, store.ConsumeRequest{
		Slug:     slug,
		CodeHash: hash,
		UserID:   userID,
		MemberID: uuid.NewString(),
		Now:      now,
	})
	switch {
	case errors.Is(err, store.ErrInviteInvalid):
		a.metrics.Consume(metrics.ResultInvalid)
		logutils.Log.WithFields(logutils.Fields{"slug": slug, "user_id": userID}).Info("invite redemption rejected")
		return nil, nil, err
	case err != nil:
		a.metrics.Consume(metrics.ResultError)
		return nil, nil, err
	}
	a.metrics.Consume(metrics.ResultOK)
	return ws, m, nil
}

// Revoke marks an invite revoked. Revoking an already revoked invite
// returns it unchanged.
func (a *Authority) Revoke(ctx context.Context, workspaceID, inviteID, actorUserID string) (*model.Invite, error) {
	if _, err := a.inviter(ctx, workspaceID, actorUserID); err != nil {
		return nil, err
	}
	return a.store.RevokeInvite(ctx, workspaceID, inviteID, a.now().UTC())
}

// List returns every invite of the workspace, newest first.
func (a *Authority) List(ctx context.Context, workspaceID, actorUserID string) ([]model.Invite, error) {
	if _, err := a.inviter(ctx, workspaceID, actorUserID); err != nil {
		return nil, err
	}
	return a.store.ListInvites(ctx, workspaceID)
}
