package postgres

import (
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrations returns the ordered schema migrations.
func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "202610010900_workspaces",
			Migrate: func(tx *gorm.DB) error {
				// copied so later changes to the row types do not rewrite history
				type workspace struct {
					ID              string `gorm:"primaryKey;type:varchar(64)"`
					Slug            string `gorm:"uniqueIndex;type:varchar(64);not null"`
					DisplayName     string `gorm:"type:varchar(80);not null"`
					Revision        int64  `gorm:"not null;default:0"`
					CreatedByUserID string `gorm:"type:varchar(128);not null"`
					CreatedAt       time.Time
				}
				type member struct {
					ID          string     `gorm:"primaryKey;type:varchar(64)"`
					WorkspaceID string     `gorm:"uniqueIndex:idx_member_workspace_user;type:varchar(64);not null"`
					UserID      string     `gorm:"uniqueIndex:idx_member_workspace_user;index;type:varchar(128);not null"`
					Role        string     `gorm:"type:varchar(16);not null"`
					CanInvite   bool       `gorm:"not null;default:false"`
					JoinedAt    time.Time  `gorm:"not null"`
					RemovedAt   *time.Time `gorm:"index"`
				}
				if err := tx.Table("workspaces").Migrator().CreateTable(&workspace{}); err != nil {
					return err
				}
				return tx.Table("workspace_members").Migrator().CreateTable(&member{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("workspace_members", "workspaces")
			},
		},
		{
			ID: "202610010905_collections",
			Migrate: func(tx *gorm.DB) error {
				for _, table := range collectionTables {
					if err := tx.Table(table).Migrator().CreateTable(&itemRow{}); err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				for _, table := range collectionTables {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			ID: "202610010910_invites",
			Migrate: func(tx *gorm.DB) error {
				type invite struct {
					ID                string    `gorm:"primaryKey;type:varchar(64)"`
					WorkspaceID       string    `gorm:"index;type:varchar(64);not null"`
					Slug              string    `gorm:"uniqueIndex;type:varchar(64);not null"`
					CodeHash          string    `gorm:"type:varchar(128);not null"`
					Role              string    `gorm:"type:varchar(16);not null"`
					ExpiresAt         time.Time `gorm:"not null"`
					MaxUses           int       `gorm:"not null"`
					UseCount          int       `gorm:"not null;default:0"`
					RevokedAt         *time.Time
					CreatedByMemberID string `gorm:"type:varchar(64);not null"`
					UsedByUserID      string `gorm:"type:varchar(128)"`
					CreatedAt         time.Time
				}
				return tx.Table("workspace_invites").Migrator().CreateTable(&invite{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("workspace_invites")
			},
		},
	}
}

// Migrate applies every pending migration.
func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, Migrations()).Migrate()
}

// Rollback reverts the most recent migration.
func Rollback(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, Migrations()).RollbackLast()
}
