package postgres

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
	"github.com/jun/gophsync/internal/store/storetest"
)

// Runs against a real database when POSTGRES_TEST_DSN is set.
func TestStore_Contract(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, Migrate(s.DB()))

	storetest.Run(t, func(t *testing.T) store.Store {
		truncate(t, s.DB())
		return s
	})
}

func truncate(t *testing.T, db *gorm.DB) {
	t.Helper()
	tables := []string{"workspace_invites", "workspace_members", "workspaces"}
	for _, table := range collectionTables {
		tables = append(tables, table)
	}
	for _, table := range tables {
		require.NoError(t, db.Exec("TRUNCATE TABLE "+table).Error)
	}
}

func TestItemRows_KeepArrayOrder(t *testing.T) {
	items := []model.Item{
		{ID: "c", Type: model.ItemLink, URL: "https://c"},
		{ID: "a", Type: model.ItemLink, URL: "https://a"},
	}
	rows := itemRows("w1", items)
	require.Len(t, rows, 2)
	require.Equal(t, 0, rows[0].Position)
	require.Equal(t, "c", rows[0].ItemID)
	require.Equal(t, 1, rows[1].Position)
	require.Equal(t, items[1], rows[1].model())
}

func TestCollectionTables_CoverEveryKey(t *testing.T) {
	for _, k := range model.CollectionKeys {
		require.NotEmpty(t, collectionTables[k], k)
	}
}
