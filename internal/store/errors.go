package store

import (
	"errors"

	"github.com/jun/gophsync/internal/model"
)

var (
	// ErrNotFound is returned when a workspace, member or invite does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrRevisionConflict is returned when a write's base revision is stale.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrSlugTaken is returned when a generated slug collides with an existing one.
	ErrSlugTaken = errors.New("slug already taken")

	// ErrInviteInvalid covers every reason an invite cannot be redeemed:
	// unknown slug, wrong code, expired, revoked or exhausted.
	ErrInviteInvalid = errors.New("invite is invalid or has expired")
)

// ConflictError carries the current state of the workspace so the writer
// can rebase without another round trip.
type ConflictError struct {
	BaseRevision int64
	Current      model.Snapshot
}

func (e *ConflictError) Error() string {
	return "revision conflict"
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}
