package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gsync "github.com/jun/gophsync/core/sync"
	"github.com/jun/gophsync/internal/app"
	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/crypto"
	"github.com/jun/gophsync/internal/metrics"
	"github.com/jun/gophsync/internal/store/memory"
)

func newServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{DevMode: true, PublicBaseURL: "http://localhost:5173"}
	cfg.Invites.AttemptsPerMinute = 600
	cfg.Invites.AttemptBurst = 100
	hasher, err := crypto.NewHMACHasher("invite-secret")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	a := app.New(cfg, app.Deps{Store: memory.New(), Hasher: hasher, Metrics: metrics.New(reg), JWTSecret: "cli-secret"})
	srv := httptest.NewServer(a.Router(reg))
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()), buf.String())
	return buf.String()
}

func TestSyncctl_Workflow(t *testing.T) {
	base := newServer(t)

	out := run(t, "--url", base, "login")
	var token string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "export GOPHSYNC_TOKEN="); ok {
			token = v
		}
	}
	require.NotEmpty(t, token, out)

	common := []string{"--url", base, "--token", token, "--cache-dir", t.TempDir()}
	with := func(args ...string) []string { return append(append([]string{}, common...), args...) }

	out = run(t, with("create", "Team")...)
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2, out)
	slug := fields[1]

	out = run(t, with("add", slug, "links", "--title", "Docs", "--url", "https://example.com/docs")...)
	assert.Contains(t, out, "Team now has 1 links (revision 1)")

	out = run(t, with("read", slug, "links")...)
	var read readOutput
	require.NoError(t, json.Unmarshal([]byte(out), &read), out)
	assert.Equal(t, gsync.StatusSynced, read.Status)
	assert.Equal(t, int64(1), read.Revision)
	require.Len(t, read.Items, 1)
	assert.Equal(t, "Docs", read.Items[0].Title)

	out = run(t, with("remove", slug, "links", read.Items[0].ID)...)
	assert.Contains(t, out, "Team now has 0 links (revision 2)")

	out = run(t, with("list")...)
	assert.Contains(t, out, slug)
	assert.Contains(t, out, "admin")

	out = run(t, with("invite", slug, "--role", "viewer")...)
	assert.Contains(t, out, "code: ")
	assert.Contains(t, out, "role viewer")
}

func TestSyncctl_LocalInstance(t *testing.T) {
	args := []string{"--url", "http://127.0.0.1:1", "--cache-dir", t.TempDir()}

	out := run(t, append(args, "add", "local", "notes", "--title", "todo", "--content", "buy milk")...)
	assert.Contains(t, out, "Local now has 1 notes (revision 0)")

	out = run(t, append(args, "read", "local")...)
	var read readOutput
	require.NoError(t, json.Unmarshal([]byte(out), &read), out)
	assert.Equal(t, gsync.StatusLocal, read.Status)
	require.NotNil(t, read.All)
	require.Len(t, read.All.Notes, 1)
	assert.Equal(t, "buy milk", read.All.Notes[0].Content)
}

func TestSyncctl_RejectsBadInput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--cache-dir", "", "add", "local", "widgets"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
