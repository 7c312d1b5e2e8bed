package sync

import (
	"context"
	"errors"
	"sort"
	stdsync "sync"
	"time"

	"github.com/jun/gophsync/internal/model"
)

// ErrNotCached is returned when the cache holds nothing under a key.
var ErrNotCached = errors.New("not cached")

// Connection remembers a workspace this client has joined, so the registry
// can be rebuilt before the network is reachable.
type Connection struct {
	WorkspaceID string     `json:"workspaceId"`
	Slug        string     `json:"slug"`
	Role        model.Role `json:"role"`
	DisplayName string     `json:"displayName"`
	Revision    int64      `json:"revision"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ConnectionStore persists connections, the last confirmed snapshot of each
// workspace and the collections of the local instance.
type ConnectionStore interface {
	ListConnections(ctx context.Context) ([]Connection, error)
	SaveConnection(ctx context.Context, c Connection) error
	// DeleteConnection drops the connection and its cached snapshot.
	DeleteConnection(ctx context.Context, workspaceID string) error

	LoadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error)
	SaveSnapshot(ctx context.Context, workspaceID string, snap model.Snapshot) error

	LoadLocal(ctx context.Context) (*model.Collections, error)
	SaveLocal(ctx context.Context, c model.Collections) error
}

// MemoryCache is a ConnectionStore that lives only as long as the process.
type MemoryCache struct {
	mu          stdsync.Mutex
	connections map[string]Connection
	snapshots   map[string]model.Snapshot
	local       *model.Collections
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		connections: make(map[string]Connection),
		snapshots:   make(map[string]model.Snapshot),
	}
}

func (m *MemoryCache) ListConnections(_ context.Context) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out, nil
}

func (m *MemoryCache) SaveConnection(_ context.Context, c Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.WorkspaceID] = c
	return nil
}

func (m *MemoryCache) DeleteConnection(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, workspaceID)
	delete(m.snapshots, workspaceID)
	return nil
}

func (m *MemoryCache) LoadSnapshot(_ context.Context, workspaceID string) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[workspaceID]
	if !ok {
		return nil, ErrNotCached
	}
	return &model.Snapshot{Revision: snap.Revision, Collections: snap.Collections.Clone()}, nil
}

func (m *MemoryCache) SaveSnapshot(_ context.Context, workspaceID string, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[workspaceID] = model.Snapshot{Revision: snap.Revision, Collections: snap.Collections.Clone()}
	return nil
}

func (m *MemoryCache) LoadLocal(_ context.Context) (*model.Collections, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return nil, ErrNotCached
	}
	c := m.local.Clone()
	return &c, nil
}

func (m *MemoryCache) SaveLocal(_ context.Context, c model.Collections) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := c.Clone()
	m.local = &clone
	return nil
}
