package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/logutils"
)

type options struct {
	serverURL    string
	token        string
	cacheDir     string
	logLevel     string
	pollInterval time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gophsync")
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Work with synced workspaces from the terminal",
		Long: `syncctl keeps a local cache of the workspaces you belong to and edits
their collections through the same optimistic write queue the app uses.

The instance "local" is always available and never leaves this machine.

Examples:
  syncctl login
  syncctl create "Team notes" --seed-local
  syncctl add team-notes links --title Docs --url https://example.com
  syncctl read team-notes links`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutils.SetLevel(opts.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.serverURL, "url", envOr("GOPHSYNC_URL", "http://localhost:8080/api"), "API base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("GOPHSYNC_TOKEN"), "session token")
	flags.StringVar(&opts.cacheDir, "cache-dir", envOr("GOPHSYNC_CACHE_DIR", defaultCacheDir()), "local cache directory (empty keeps it in memory)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.DurationVar(&opts.pollInterval, "poll", 15*time.Second, "poll interval for watch")

	root.AddCommand(
		newLoginCmd(opts),
		newListCmd(opts),
		newCreateCmd(opts),
		newJoinCmd(opts),
		newInviteCmd(opts),
		newReadCmd(opts),
		newAddCmd(opts),
		newRemoveCmd(opts),
		newLeaveCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
