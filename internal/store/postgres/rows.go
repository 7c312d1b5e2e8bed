package postgres

import (
	"time"

	"github.com/jun/gophsync/internal/model"
)

type workspaceRow struct {
	ID              string `gorm:"primaryKey;type:varchar(64)"`
	Slug            string `gorm:"uniqueIndex;type:varchar(64);not null"`
	DisplayName     string `gorm:"type:varchar(80);not null"`
	Revision        int64  `gorm:"not null;default:0"`
	CreatedByUserID string `gorm:"type:varchar(128);not null"`
	CreatedAt       time.Time
}

func (workspaceRow) TableName() string { return "workspaces" }

func (r workspaceRow) model() model.Workspace {
	return model.Workspace{
		ID:              r.ID,
		Slug:            r.Slug,
		DisplayName:     r.DisplayName,
		Revision:        r.Revision,
		CreatedByUserID: r.CreatedByUserID,
		CreatedAt:       r.CreatedAt,
	}
}

type memberRow struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)"`
	WorkspaceID string     `gorm:"uniqueIndex:idx_member_workspace_user;type:varchar(64);not null"`
	UserID      string     `gorm:"uniqueIndex:idx_member_workspace_user;index;type:varchar(128);not null"`
	Role        string     `gorm:"type:varchar(16);not null"`
	CanInvite   bool       `gorm:"not null;default:false"`
	JoinedAt    time.Time  `gorm:"not null"`
	RemovedAt   *time.Time `gorm:"index"`
}

func (memberRow) TableName() string { return "workspace_members" }

func memberFromModel(m model.Member) memberRow {
	return memberRow{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		UserID:      m.UserID,
		Role:        string(m.Role),
		CanInvite:   m.CanInvite,
		JoinedAt:    m.JoinedAt,
		RemovedAt:   m.RemovedAt,
	}
}

func (r memberRow) model() model.Member {
	return model.Member{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		UserID:      r.UserID,
		Role:        model.Role(r.Role),
		CanInvite:   r.CanInvite,
		JoinedAt:    r.JoinedAt,
		RemovedAt:   r.RemovedAt,
	}
}

type inviteRow struct {
	ID                string     `gorm:"primaryKey;type:varchar(64)"`
	WorkspaceID       string     `gorm:"index;type:varchar(64);not null"`
	Slug              string     `gorm:"uniqueIndex;type:varchar(64);not null"`
	CodeHash          string     `gorm:"type:varchar(128);not null"`
	Role              string     `gorm:"type:varchar(16);not null"`
	ExpiresAt         time.Time  `gorm:"not null"`
	MaxUses           int        `gorm:"not null"`
	UseCount          int        `gorm:"not null;default:0"`
	RevokedAt         *time.Time
	CreatedByMemberID string `gorm:"type:varchar(64);not null"`
	UsedByUserID      string `gorm:"type:varchar(128)"`
	CreatedAt         time.Time
}

func (inviteRow) TableName() string { return "workspace_invites" }

func inviteFromModel(i model.Invite) inviteRow {
	return inviteRow{
		ID:                i.ID,
		WorkspaceID:       i.WorkspaceID,
		Slug:              i.Slug,
		CodeHash:          i.CodeHash,
		Role:              string(i.Role),
		ExpiresAt:         i.ExpiresAt,
		MaxUses:           i.MaxUses,
		UseCount:          i.UseCount,
		RevokedAt:         i.RevokedAt,
		CreatedByMemberID: i.CreatedByMemberID,
		UsedByUserID:      i.UsedByUserID,
		CreatedAt:         i.CreatedAt,
	}
}

func (r inviteRow) model() model.Invite {
	return model.Invite{
		ID:                r.ID,
		WorkspaceID:       r.WorkspaceID,
		Slug:              r.Slug,
		CodeHash:          r.CodeHash,
		Role:              model.Role(r.Role),
		ExpiresAt:         r.ExpiresAt,
		MaxUses:           r.MaxUses,
		UseCount:          r.UseCount,
		RevokedAt:         r.RevokedAt,
		CreatedByMemberID: r.CreatedByMemberID,
		UsedByUserID:      r.UsedByUserID,
		CreatedAt:         r.CreatedAt,
	}
}

// itemRow is stored in one table per collection; Position keeps array order.
type itemRow struct {
	WorkspaceID string `gorm:"primaryKey;type:varchar(64)"`
	ItemID      string `gorm:"primaryKey;type:varchar(64)"`
	Position    int    `gorm:"not null"`
	Type        string `gorm:"type:varchar(16);not null"`
	Title       string `gorm:"type:text"`
	Category    string `gorm:"type:varchar(128)"`
	URL         string `gorm:"type:text"`
	Content     string `gorm:"type:text"`
	Language    string `gorm:"type:varchar(64)"`
	State       string `gorm:"type:varchar(64)"`
	Variant     string `gorm:"type:varchar(64)"`
}

var collectionTables = map[model.CollectionKey]string{
	model.Links:    "workspace_links",
	model.Notes:    "workspace_notes",
	model.Snippets: "workspace_snippets",
	model.Statuses: "workspace_statuses",
}

func itemRows(workspaceID string, items []model.Item) []itemRow {
	rows := make([]itemRow, len(items))
	for i, it := range items {
		rows[i] = itemRow{
			WorkspaceID: workspaceID,
			ItemID:      it.ID,
			Position:    i,
			Type:        string(it.Type),
			Title:       it.Title,
			Category:    it.Category,
			URL:         it.URL,
			Content:     it.Content,
			Language:    it.Language,
			State:       it.State,
			Variant:     it.Variant,
		}
	}
	return rows
}

func (r itemRow) model() model.Item {
	return model.Item{
		ID:       r.ItemID,
		Type:     model.ItemType(r.Type),
		Title:    r.Title,
		Category: r.Category,
		URL:      r.URL,
		Content:  r.Content,
		Language: r.Language,
		State:    r.State,
		Variant:  r.Variant,
	}
}
