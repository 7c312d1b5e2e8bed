package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/jun/gophsync/internal/model"
)

// Status is the reconciliation state of one instance.
type Status string

const (
	StatusLocal      Status = "local"
	StatusConnecting Status = "connecting"
	StatusSynced     Status = "synced"
	StatusOffline    Status = "offline"
	StatusError      Status = "error"
)

// InstanceState is a point-in-time copy of what the engine knows about an
// instance.
type InstanceState struct {
	ID                  string
	Status              Status
	Role                model.Role
	Revision            int64
	Collections         model.Collections
	PendingLocalChanges int
	LastSyncedAt        time.Time
	LastError           string
}

// WriteState is the lifecycle of one mutation.
type WriteState int

const (
	// WritePending means the optimistic guess is shown and the write has
	// not completed.
	WritePending WriteState = iota
	// WriteReconciled means the server accepted the write (or nothing had
	// to be written) and Snapshot is the server truth.
	WriteReconciled
	// WriteFailed means the mutation was dropped. Snapshot is the last
	// known server truth and Err the reason.
	WriteFailed
)

func (s WriteState) String() string {
	switch s {
	case WritePending:
		return "pending"
	case WriteReconciled:
		return "reconciled"
	case WriteFailed:
		return "failed"
	}
	return "unknown"
}

// PendingWrite tracks one mutation from optimistic guess to server truth.
type PendingWrite struct {
	key  model.CollectionKey
	done chan struct{}

	mu       stdsync.Mutex
	state    WriteState
	guess    []model.Item
	snapshot model.Snapshot
	err      error
}

func newPendingWrite(key model.CollectionKey, guess []model.Item) *PendingWrite {
	return &PendingWrite{key: key, guess: guess, done: make(chan struct{})}
}

// State returns the current state.
func (p *PendingWrite) State() WriteState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Items returns the optimistic guess while pending and the server's array
// for the key afterwards.
func (p *PendingWrite) Items() []model.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == WritePending {
		return model.CloneItems(p.guess)
	}
	return model.CloneItems(p.snapshot.Get(p.key))
}

// Snapshot returns the server state the write settled on. It is zero while
// pending.
func (p *PendingWrite) Snapshot() model.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Err returns why the write failed, or nil.
func (p *PendingWrite) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once the write has left the pending state.
func (p *PendingWrite) Done() <-chan struct{} { return p.done }

// Wait blocks until the write settles and returns its failure reason.
func (p *PendingWrite) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PendingWrite) settle(state WriteState, snap model.Snapshot, err error) {
	p.mu.Lock()
	if p.state != WritePending {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.snapshot = model.Snapshot{Revision: snap.Revision, Collections: snap.Collections.Clone()}
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *PendingWrite) reconcile(snap model.Snapshot) { p.settle(WriteReconciled, snap, nil) }

func (p *PendingWrite) fail(snap model.Snapshot, err error) { p.settle(WriteFailed, snap, err) }
