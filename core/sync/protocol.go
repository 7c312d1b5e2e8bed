// Package sync is the client side of workspace synchronization: the
// rebase-once write protocol, the per-workspace reconciliation engine, the
// instance registry and the local connection cache.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jun/gophsync/internal/model"
)

// MaxAttempts bounds the writes one mutation may send: the original write
// and a single rebased retry.
const MaxAttempts = 2

var (
	// ErrConflict matches every revision conflict, terminal or not.
	ErrConflict = errors.New("revision conflict")

	// ErrTransient marks network failures and timeouts. They move the
	// workspace offline instead of into the error state.
	ErrTransient = errors.New("transient network failure")
)

// Transform computes a new collection array from the current one. It may be
// called twice for one mutation, the second time on the rebased array, so it
// must not depend on state captured from the first call.
type Transform func(items []model.Item) []model.Item

// ConflictError is returned by a Writer when the base revision was stale.
// Current is the server state to rebase on.
type ConflictError struct {
	Current model.Snapshot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict: server is at revision %d", e.Current.Revision)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TerminalConflictError is returned when the rebased write conflicted again.
// Current is the latest server state; no further attempt is made.
type TerminalConflictError struct {
	Key     model.CollectionKey
	Current model.Snapshot
}

func (e *TerminalConflictError) Error() string {
	return fmt.Sprintf("%s changed again while your edit was being merged (server revision %d); review and retry",
		e.Key, e.Current.Revision)
}

func (e *TerminalConflictError) Is(target error) bool { return target == ErrConflict }

// Writer sends one conditional collection write.
type Writer interface {
	WriteCollection(ctx context.Context, workspaceID string, key model.CollectionKey, baseRevision int64, items []model.Item) (int64, error)
}

// Outcome is the confirmed server state after WriteWithRebase. Attempts is
// the number of writes sent; zero means the transform changed nothing.
type Outcome struct {
	Snapshot model.Snapshot
	Attempts int
}

// WriteWithRebase applies transform to key on top of base and writes the
// result. On a conflict it adopts the returned server state, re-runs
// transform on it and writes once more. A second conflict ends with a
// *TerminalConflictError.
func WriteWithRebase(ctx context.Context, w Writer, workspaceID string, key model.CollectionKey, base model.Snapshot, transform Transform) (*Outcome, error) {
	current := model.Snapshot{Revision: base.Revision, Collections: base.Collections.Clone()}
	attempts := 0
	for {
		before := current.Get(key)
		next := transform(model.CloneItems(before))
		if next == nil {
			next = []model.Item{}
		}
		if model.EqualItems(before, next) {
			return &Outcome{Snapshot: current, Attempts: attempts}, nil
		}
		if err := model.ValidateItems(key, next); err != nil {
			return nil, err
		}

		attempts++
		rev, err := w.WriteCollection(ctx, workspaceID, key, current.Revision, next)
		if err == nil {
			current.Revision = rev
			current.Set(key, next)
			return &Outcome{Snapshot: current, Attempts: attempts}, nil
		}

		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		rebased := model.Snapshot{Revision: conflict.Current.Revision, Collections: conflict.Current.Collections.Clone()}
		if attempts >= MaxAttempts {
			return nil, &TerminalConflictError{Key: key, Current: rebased}
		}
		current = rebased
	}
}
