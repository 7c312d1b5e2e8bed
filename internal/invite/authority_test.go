package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophsync/internal/access"
	"github.com/jun/gophsync/internal/crypto"
	"github.com/jun/gophsync/internal/metrics"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
	"github.com/jun/gophsync/internal/store/memory"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type fixture struct {
	store     *memory.Store
	authority *Authority
	clock     *clock
	metrics   *metrics.Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	h, err := crypto.NewHMACHasher("test-secret")
	require.NoError(t, err)
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())

	ctx := context.Background()
	require.NoError(t, s.CreateWorkspace(ctx,
		model.Workspace{ID: "w1", Slug: "team", DisplayName: "Team", CreatedAt: c.t},
		model.Member{ID: "m-admin", WorkspaceID: "w1", UserID: "admin", Role: model.RoleAdmin, CanInvite: true, JoinedAt: c.t},
		model.Collections{}))

	a := NewAuthority(s, h, Options{
		BaseURL:           "https://sync.example.com",
		AttemptsPerMinute: 600,
		AttemptBurst:      100,
		Metrics:           m,
		Now:               c.Now,
	})
	return &fixture{store: s, authority: a, clock: c, metrics: m}
}

func (f *fixture) join(t *testing.T, userID string, role model.Role, canInvite bool) {
	t.Helper()
	issued, err := f.authority.Issue(context.Background(), IssueRequest{
		WorkspaceID: "w1", ActorUserID: "admin", Role: role, ExpiresInHours: 1, MaxUses: 1,
	})
	require.NoError(t, err)
	_, m, err := f.authority.Consume(context.Background(), issued.Invite.Slug, issued.Code, userID)
	require.NoError(t, err)
	if canInvite {
		m.CanInvite = true
		require.NoError(t, f.store.UpdateMember(context.Background(), *m))
	}
}

func TestIssue_ReturnsCodeOnceAndStoresHash(t *testing.T) {
	f := setup(t)
	issued, err := f.authority.Issue(context.Background(), IssueRequest{
		WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleEditor, ExpiresInHours: 24, MaxUses: 3,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, issued.Code)
	assert.Equal(t, "https://sync.example.com/invite/"+issued.Invite.Slug, issued.URL)
	assert.NotContains(t, issued.URL, issued.Code)
	assert.Equal(t, f.clock.t.Add(24*time.Hour), issued.Invite.ExpiresAt)
	assert.Equal(t, "m-admin", issued.Invite.CreatedByMemberID)

	stored, err := f.store.GetInvite(context.Background(), "w1", issued.Invite.ID)
	require.NoError(t, err)
	assert.NotEqual(t, issued.Code, stored.CodeHash)
	assert.NotEmpty(t, stored.CodeHash)
}

func TestIssue_UsesSuppliedCode(t *testing.T) {
	f := setup(t)
	issued, err := f.authority.Issue(context.Background(), IssueRequest{
		WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 1, Code: "letmein",
	})
	require.NoError(t, err)
	assert.Equal(t, "letmein", issued.Code)

	_, _, err = f.authority.Consume(context.Background(), issued.Invite.Slug, "letmein", "bob")
	assert.NoError(t, err)
}

func TestIssue_Bounds(t *testing.T) {
	f := setup(t)
	cases := []IssueRequest{
		{Role: model.RoleEditor, ExpiresInHours: 0, MaxUses: 1},
		{Role: model.RoleEditor, ExpiresInHours: 337, MaxUses: 1},
		{Role: model.RoleEditor, ExpiresInHours: 1, MaxUses: 0},
		{Role: model.RoleEditor, ExpiresInHours: 1, MaxUses: 101},
		{Role: "owner", ExpiresInHours: 1, MaxUses: 1},
	}
	for _, req := range cases {
		req.WorkspaceID, req.ActorUserID = "w1", "admin"
		_, err := f.authority.Issue(context.Background(), req)
		assert.ErrorIs(t, err, model.ErrValidation, "%+v", req)
	}
}

func TestIssue_Permissions(t *testing.T) {
	f := setup(t)
	f.join(t, "editor", model.RoleEditor, false)
	f.join(t, "inviter", model.RoleEditor, true)
	ctx := context.Background()

	_, err := f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "editor", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 1})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "inviter", Role: model.RoleEditor, ExpiresInHours: 1, MaxUses: 1})
	assert.NoError(t, err)

	_, err = f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "inviter", Role: model.RoleAdmin, ExpiresInHours: 1, MaxUses: 1})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "stranger", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 1})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.authority.Issue(ctx, IssueRequest{WorkspaceID: "nope", ActorUserID: "admin", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIssue_RetriesSlugCollisions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first, err := f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 1})
	require.NoError(t, err)

	calls := 0
	f.authority.newSlug = func() (string, error) {
		calls++
		if calls < 3 {
			return first.Invite.Slug, nil
		}
		return "fresh", nil
	}
	second, err := f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 1})
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.Invite.Slug)
	assert.Equal(t, 3, calls)

	f.authority.newSlug = func() (string, error) { return first.Invite.Slug, nil }
	_, err = f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 1})
	assert.Error(t, err)
}

func TestConsume_SingleAndMultiUse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	once, err := f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleEditor, ExpiresInHours: 1, MaxUses: 1})
	require.NoError(t, err)
	ws, m, err := f.authority.Consume(ctx, once.Invite.Slug, once.Code, "bob")
	require.NoError(t, err)
	assert.Equal(t, "w1", ws.ID)
	assert.Equal(t, model.RoleEditor, m.Role)
	_, _, err = f.authority.Consume(ctx, once.Invite.Slug, once.Code, "carol")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)

	three, err := f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleViewer, ExpiresInHours: 1, MaxUses: 3})
	require.NoError(t, err)
	for _, u := range []string{"u1", "u2", "u3"} {
		_, _, err := f.authority.Consume(ctx, three.Invite.Slug, three.Code, u)
		require.NoError(t, err)
	}
	_, _, err = f.authority.Consume(ctx, three.Invite.Slug, three.Code, "u4")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)

	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.InviteConsumptions.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.InviteConsumptions.WithLabelValues(metrics.ResultInvalid)))
}

func TestConsume_ExpiryAndWrongCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	issued, err := f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleEditor, ExpiresInHours: 1, MaxUses: 5})
	require.NoError(t, err)

	_, _, err = f.authority.Consume(ctx, issued.Invite.Slug, "wrong", "bob")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)
	_, _, err = f.authority.Consume(ctx, "unknown", issued.Code, "bob")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)
	_, _, err = f.authority.Consume(ctx, issued.Invite.Slug, "", "bob")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)

	f.clock.t = f.clock.t.Add(time.Hour)
	_, _, err = f.authority.Consume(ctx, issued.Invite.Slug, issued.Code, "bob")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)
}

func TestConsume_RateLimited(t *testing.T) {
	f := setup(t)
	f.authority.limiter = newAttemptLimiter(1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := f.authority.Consume(ctx, "x", "y", "bob")
		assert.ErrorIs(t, err, store.ErrInviteInvalid)
	}
	_, _, err := f.authority.Consume(ctx, "x", "y", "bob")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, _, err = f.authority.Consume(ctx, "x", "y", "carol")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)
}

func TestRevokeAndList(t *testing.T) {
	f := setup(t)
	f.join(t, "viewer", model.RoleViewer, false)
	ctx := context.Background()

	issued, err := f.authority.Issue(ctx, IssueRequest{WorkspaceID: "w1", ActorUserID: "admin", Role: model.RoleEditor, ExpiresInHours: 1, MaxUses: 5})
	require.NoError(t, err)

	_, err = f.authority.Revoke(ctx, "w1", issued.Invite.ID, "viewer")
	assert.ErrorIs(t, err, access.ErrForbidden)

	first, err := f.authority.Revoke(ctx, "w1", issued.Invite.ID, "admin")
	require.NoError(t, err)
	f.clock.t = f.clock.t.Add(time.Minute)
	second, err := f.authority.Revoke(ctx, "w1", issued.Invite.ID, "admin")
	require.NoError(t, err)
	assert.True(t, first.RevokedAt.Equal(*second.RevokedAt))

	_, _, err = f.authority.Consume(ctx, issued.Invite.Slug, issued.Code, "bob")
	assert.ErrorIs(t, err, store.ErrInviteInvalid)

	list, err := f.authority.List(ctx, "w1", "admin")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.authority.List(ctx, "w1", "viewer")
	assert.True(t, errors.Is(err, access.ErrForbidden))
}
