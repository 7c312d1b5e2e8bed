package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/store/postgres"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema of the sync store",
	Long: `Applies or reverts the schema migrations of the Postgres store backend.

The DSN defaults to POSTGRES_DSN or store.postgresDSN in the config file.

Examples:
  migrate up
  migrate down --dsn "host=localhost user=gophsync dbname=gophsync"`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *postgres.Store) error {
			if err := postgres.Migrate(s.DB()); err != nil {
				return err
			}
			logutils.Log.Info("migrations applied")
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *postgres.Store) error {
			if err := postgres.Rollback(s.DB()); err != nil {
				return err
			}
			logutils.Log.Info("last migration reverted")
			return nil
		})
	},
}

func withStore(fn func(*postgres.Store) error) error {
	if dsn == "" {
		cfg, err := config.Load(configPath())
		if err == nil {
			dsn = cfg.Store.PostgresDSN
		}
	}
	if dsn == "" {
		return fmt.Errorf("no postgres DSN: set --dsn or POSTGRES_DSN")
	}
	s, err := postgres.Open(dsn)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func configPath() string {
	if p := os.Getenv("GOPHSYNC_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN")
	rootCmd.AddCommand(upCmd, downCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
