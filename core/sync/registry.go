package sync

import (
	"context"
	"errors"
	"sort"
	stdsync "sync"

	"github.com/jun/gophsync/internal/model"
)

// LocalInstanceID names the always-present, never-synced local instance.
const LocalInstanceID = "local"

// ErrUnknownInstance is returned when switching to an instance the registry
// does not hold.
var ErrUnknownInstance = errors.New("unknown instance")

// Instance is one selectable data source: the local instance or a remote
// workspace the user is a member of.
type Instance struct {
	ID          string
	Remote      bool
	Slug        string
	DisplayName string
	Role        model.Role
	CanInvite   bool
}

// WorkspaceLister fetches the caller's memberships.
type WorkspaceLister interface {
	ListWorkspaces(ctx context.Context) ([]model.WorkspaceSummary, error)
}

// Registry holds the selectable instances and which one is active.
type Registry struct {
	mu        stdsync.RWMutex
	instances map[string]Instance
	active    string
}

// NewRegistry returns a registry holding only the local instance, active.
func NewRegistry() *Registry {
	return &Registry{
		instances: map[string]Instance{
			LocalInstanceID: {ID: LocalInstanceID, DisplayName: "Local", Role: model.RoleAdmin},
		},
		active: LocalInstanceID,
	}
}

// Instances lists the local instance first, then workspaces by name.
func (r *Registry) Instances() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instance, 0, len(r.instances))
	for _, in := range r.instances {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remote != out[j].Remote {
			return !out[i].Remote
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the instance with id.
func (r *Registry) Get(id string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[id]
	return in, ok
}

// Active returns the active instance.
func (r *Registry) Active() Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[r.active]
}

func (r *Registry) setActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return ErrUnknownInstance
	}
	r.active = id
	return nil
}

func (r *Registry) put(in Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in.Remote = in.ID != LocalInstanceID
	r.instances[in.ID] = in
}

// remove drops a remote instance. It reports whether it was active, in
// which case the local instance becomes active.
func (r *Registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == LocalInstanceID {
		return false
	}
	delete(r.instances, id)
	if r.active == id {
		r.active = LocalInstanceID
		return true
	}
	return false
}

func instanceFromSummary(s model.WorkspaceSummary) Instance {
	return Instance{
		ID:          s.ID,
		Remote:      true,
		Slug:        s.Slug,
		DisplayName: s.DisplayName,
		Role:        s.Role,
		CanInvite:   s.CanInvite,
	}
}

// Hydrate replaces the remote instances with the memberships reported by
// source. It returns the ids that disappeared. The active selection is kept
// when still valid and otherwise falls back to the local instance.
func (r *Registry) Hydrate(ctx context.Context, source WorkspaceLister) ([]string, error) {
	summaries, err := source.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	fresh := make(map[string]Instance, len(summaries))
	for _, s := range summaries {
		fresh[s.ID] = instanceFromSummary(s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id := range r.instances {
		if id == LocalInstanceID {
			continue
		}
		if _, ok := fresh[id]; !ok {
			removed = append(removed, id)
			delete(r.instances, id)
		}
	}
	for id, in := range fresh {
		r.instances[id] = in
	}
	if _, ok := r.instances[r.active]; !ok {
		r.active = LocalInstanceID
	}
	sort.Strings(removed)
	return removed, nil
}
