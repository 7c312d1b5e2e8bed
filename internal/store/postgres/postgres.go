// Package postgres implements store.Store on PostgreSQL with GORM. A
// collection write is a single transaction: a guarded revision bump followed
// by a delete-and-reinsert of the collection rows.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

// Store implements store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and configures the connection pool.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logutils.Log.Info("Postgres init success!")
	return &Store{db: db}, nil
}

// New wraps an existing connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the connection for migrations.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateWorkspace(ctx context.Context, ws model.Workspace, owner model.Member, seed model.Collections) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := workspaceRow{
			ID:              ws.ID,
			Slug:            ws.Slug,
			DisplayName:     ws.DisplayName,
			CreatedByUserID: ws.CreatedByUserID,
			CreatedAt:       ws.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		m := memberFromModel(owner)
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		for _, k := range model.CollectionKeys {
			if rows := itemRows(ws.ID, seed.Get(k)); len(rows) > 0 {
				if err := tx.Table(collectionTables[k]).Create(&rows).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	var row workspaceRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", workspaceID).Error; err != nil {
		return nil, notFound(err)
	}
	ws := row.model()
	return &ws, nil
}

func (s *Store) ListWorkspacesForUser(ctx context.Context, userID string) ([]model.WorkspaceSummary, error) {
	type summaryRow struct {
		ID          string
		Slug        string
		DisplayName string
		Revision    int64
		Role        string
		CanInvite   bool
	}
	var rows []summaryRow
	err := s.db.WithContext(ctx).
		Table("workspace_members AS m").
		Select("w.id, w.slug, w.display_name, w.revision, m.role, m.can_invite").
		Joins("JOIN workspaces AS w ON w.id = m.workspace_id").
		Where("m.user_id = ? AND m.removed_at IS NULL", userID).
		Order("w.display_name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	out := make([]model.WorkspaceSummary, len(rows))
	for i, r := range rows {
		out[i] = model.WorkspaceSummary{
			ID:          r.ID,
			Slug:        r.Slug,
			DisplayName: r.DisplayName,
			Role:        model.Role(r.Role),
			CanInvite:   r.CanInvite,
			Revision:    r.Revision,
		}
	}
	return out, nil
}

func readSnapshot(tx *gorm.DB, workspaceID string) (*model.Snapshot, error) {
	var ws workspaceRow
	if err := tx.Select("id", "revision").First(&ws, "id = ?", workspaceID).Error; err != nil {
		return nil, notFound(err)
	}
	snap := &model.Snapshot{Revision: ws.Revision}
	for _, k := range model.CollectionKeys {
		var rows []itemRow
		if err := tx.Table(collectionTables[k]).Where("workspace_id = ?", workspaceID).Order("position").Find(&rows).Error; err != nil {
			return nil, err
		}
		items := make([]model.Item, len(rows))
		for i, r := range rows {
			items[i] = r.model()
		}
		snap.Set(k, items)
	}
	return snap, nil
}

func (s *Store) ReadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error) {
	var snap *model.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		snap, err = readSnapshot(tx, workspaceID)
		return err
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

var errStaleBase = errors.New("base revision is stale")

// WriteCollection bumps the revision with a compare-and-set and rewrites the
// collection in the same transaction. On a stale base the current snapshot is
// read afterwards under ReadSnapshot's repeatable-read isolation.
func (s *Store) WriteCollection(ctx context.Context, workspaceID string, key model.CollectionKey, baseRevision int64, items []model.Item) (int64, error) {
	table := collectionTables[key]
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&workspaceRow{}).
			Where("id = ? AND revision = ?", workspaceID, baseRevision).
			Update("revision", gorm.Expr("revision + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStaleBase
		}
		if err := tx.Table(table).Where("workspace_id = ?", workspaceID).Delete(&itemRow{}).Error; err != nil {
			return err
		}
		if rows := itemRows(workspaceID, items); len(rows) > 0 {
			return tx.Table(table).Create(&rows).Error
		}
		return nil
	})
	if err == nil {
		return baseRevision + 1, nil
	}
	if !errors.Is(err, errStaleBase) {
		return 0, fmt.Errorf("failed to write collection: %w", err)
	}

	current, err := s.ReadSnapshot(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	logutils.Log.WithFields(logutils.Fields{
		"workspace_id": workspaceID,
		"collection":   key,
		"base":         baseRevision,
		"current":      current.Revision,
	}).Debug("collection write conflicted")
	return 0, &store.ConflictError{BaseRevision: baseRevision, Current: *current}
}

func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (*model.Member, error) {
	var row memberRow
	if err := s.db.WithContext(ctx).First(&row, "workspace_id = ? AND user_id = ?", workspaceID, userID).Error; err != nil {
		return nil, notFound(err)
	}
	m := row.model()
	return &m, nil
}

func (s *Store) GetMemberByID(ctx context.Context, workspaceID, memberID string) (*model.Member, error) {
	var row memberRow
	if err := s.db.WithContext(ctx).First(&row, "workspace_id = ? AND id = ?", workspaceID, memberID).Error; err != nil {
		return nil, notFound(err)
	}
	m := row.model()
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, workspaceID string) ([]model.Member, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	var rows []memberRow
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND removed_at IS NULL", workspaceID).
		Order("joined_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	out := make([]model.Member, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) UpdateMember(ctx context.Context, m model.Member) error {
	res := s.db.WithContext(ctx).Model(&memberRow{}).
		Where("id = ? AND workspace_id = ?", m.ID, m.WorkspaceID).
		Updates(map[string]any{"role": string(m.Role), "can_invite": m.CanInvite})
	if res.Error != nil {
		return fmt.Errorf("failed to update member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, workspaceID, memberID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&memberRow{}).
		Where("id = ? AND workspace_id = ? AND removed_at IS NULL", memberID, workspaceID).
		Update("removed_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to remove member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateInvite(ctx context.Context, inv model.Invite) error {
	if _, err := s.GetWorkspace(ctx, inv.WorkspaceID); err != nil {
		return err
	}
	row := inviteFromModel(inv)
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create invite: %w", err)
	}
	return nil
}

func (s *Store) ListInvites(ctx context.Context, workspaceID string) ([]model.Invite, error) {
	var rows []inviteRow
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	out := make([]model.Invite, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) GetInvite(ctx context.Context, workspaceID, inviteID string) (*model.Invite, error) {
	var row inviteRow
	if err := s.db.WithContext(ctx).First(&row, "workspace_id = ? AND id = ?", workspaceID, inviteID).Error; err != nil {
		return nil, notFound(err)
	}
	inv := row.model()
	return &inv, nil
}

func (s *Store) RevokeInvite(ctx context.Context, workspaceID, inviteID string, at time.Time) (*model.Invite, error) {
	var out model.Invite
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row inviteRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "workspace_id = ? AND id = ?", workspaceID, inviteID).Error
		if err != nil {
			return notFound(err)
		}
		if row.RevokedAt == nil {
			row.RevokedAt = &at
			if err := tx.Model(&row).Update("revoked_at", at).Error; err != nil {
				return err
			}
		}
		out = row.model()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConsumeInvite locks the invite row for the duration of the redemption so
// concurrent redeemers serialize on it.
func (s *Store) ConsumeInvite(ctx context.Context, req store.ConsumeRequest) (*model.Workspace, *model.Member, error) {
	var (
		ws     model.Workspace
		member model.Member
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row inviteRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "slug = ?", req.Slug).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrInviteInvalid
		}
		if err != nil {
			return err
		}
		inv := row.model()
		if err := store.CheckRedeemable(&inv, req.CodeHash, req.Now); err != nil {
			return err
		}

		var wsRow workspaceRow
		if err := tx.First(&wsRow, "id = ?", inv.WorkspaceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrInviteInvalid
			}
			return err
		}
		ws = wsRow.model()

		var existing *model.Member
		var mRow memberRow
		err = tx.First(&mRow, "workspace_id = ? AND user_id = ?", inv.WorkspaceID, req.UserID).Error
		switch {
		case err == nil:
			m := mRow.model()
			existing = &m
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var consumed bool
		member, consumed = store.Redeem(&inv, existing, req)
		if !consumed {
			return nil
		}
		next := memberFromModel(member)
		if existing == nil {
			err = tx.Create(&next).Error
		} else {
			err = tx.Model(&memberRow{}).Where("id = ?", next.ID).Updates(map[string]any{
				"role":       next.Role,
				"can_invite": next.CanInvite,
				"joined_at":  next.JoinedAt,
				"removed_at": nil,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]any{
			"use_count":       gorm.Expr("use_count + 1"),
			"used_by_user_id": req.UserID,
		}).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrInviteInvalid) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to consume invite: %w", err)
	}
	return &ws, &member, nil
}
