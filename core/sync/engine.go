package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jun/gophsync/internal/access"
	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/model"
)

// DefaultPollInterval is how often the active workspace is re-read.
const DefaultPollInterval = 15 * time.Second

var (
	// ErrReadOnly is returned by Mutate when the caller is a viewer.
	ErrReadOnly = errors.New("this workspace is read-only for viewers")

	// ErrWorkspaceGone fails queued writes of a workspace the user left or
	// lost access to.
	ErrWorkspaceGone = errors.New("workspace is no longer available")

	// ErrClosed is returned once the engine has been closed.
	ErrClosed = errors.New("sync engine closed")
)

// ReadResult is the answer to a conditional read. When Unchanged is set only
// Snapshot.Revision is meaningful.
type ReadResult struct {
	Unchanged bool
	Snapshot  model.Snapshot
}

// Remote is the server API the engine talks to. Network failures must
// satisfy errors.Is(err, ErrTransient); stale writes must return a
// *ConflictError.
type Remote interface {
	WorkspaceLister
	Writer
	ReadCollections(ctx context.Context, workspaceID string, sinceRevision *int64) (*ReadResult, error)
	CreateWorkspace(ctx context.Context, displayName string, seed *model.Collections) (*model.Workspace, error)
	ConsumeInvite(ctx context.Context, slug, code string) (*model.Workspace, *model.Member, error)
	LeaveWorkspace(ctx context.Context, workspaceID string) error
}

// EventKind tells state changes from user-facing notices.
type EventKind int

const (
	EventState EventKind = iota
	EventNotice
)

// Event is published to subscribers after every state change.
type Event struct {
	Kind       EventKind
	InstanceID string
	Status     Status
	Message    string
}

// Options configures an Engine.
type Options struct {
	Remote Remote
	// Cache defaults to an in-memory cache.
	Cache ConnectionStore
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	Now          func() time.Time
}

type job struct {
	key       model.CollectionKey
	transform Transform
	write     *PendingWrite
}

type workspaceState struct {
	id           string
	confirmed    model.Snapshot
	loaded       bool
	view         model.Collections
	queue        []*job
	inflight     *job // head job once its write has been dispatched
	status       Status
	lastSyncedAt time.Time
	lastErr      string
	wake         chan struct{}
	running      bool
}

// Engine reconciles the client's view of its workspaces with the server.
// Each workspace has one writer goroutine, so its mutations reach the server
// in the order they were made.
type Engine struct {
	remote   Remote
	cache    ConnectionStore
	interval time.Duration
	now      func() time.Time
	registry *Registry
	group    singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	mu         stdsync.Mutex
	closed     bool
	online     bool
	onlineCh   chan struct{} // closed while online
	local      model.Collections
	workspaces map[string]*workspaceState
	pollID     string
	pollCancel context.CancelFunc
	subs       map[int]func(Event)
	nextSub    int
}

// NewEngine builds an engine and restores the local instance and every
// cached connection, so the registry is usable before any network call.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, errors.New("sync: Remote is required")
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	onlineCh := make(chan struct{})
	close(onlineCh)
	e := &Engine{
		remote:     opts.Remote,
		cache:      opts.Cache,
		interval:   opts.PollInterval,
		now:        opts.Now,
		registry:   NewRegistry(),
		online:     true,
		onlineCh:   onlineCh,
		local:      model.Collections{}.Clone(),
		workspaces: make(map[string]*workspaceState),
		subs:       make(map[int]func(Event)),
	}

	local, err := e.cache.LoadLocal(ctx)
	switch {
	case err == nil:
		e.local = *local
	case !errors.Is(err, ErrNotCached):
		return nil, fmt.Errorf("load local collections: %w", err)
	}

	conns, err := e.cache.ListConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	for _, c := range conns {
		e.registry.put(Instance{ID: c.WorkspaceID, Slug: c.Slug, DisplayName: c.DisplayName, Role: c.Role})
		ws := e.workspace(c.WorkspaceID)
		if snap, err := e.cache.LoadSnapshot(ctx, c.WorkspaceID); err == nil {
			e.adopt(ws, *snap)
		}
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Registry returns the instance registry. Use SwitchInstance to change the
// active instance.
func (e *Engine) Registry() *Registry { return e.registry }

// Close stops polling and every writer. Writes still queued fail with
// ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.pollCancel != nil {
		e.pollCancel()
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	var dropped []*job
	for _, ws := range e.workspaces {
		dropped = append(dropped, ws.queue...)
		ws.queue = nil
	}
	e.mu.Unlock()
	for _, j := range dropped {
		j.write.fail(model.Snapshot{}, ErrClosed)
	}
	return nil
}

// Subscribe registers fn for every Event. The returned function removes it
// and may be called more than once.
func (e *Engine) Subscribe(fn func(Event)) (cancel func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once stdsync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// State returns what the engine knows about instance id.
func (e *Engine) State(id string) (InstanceState, bool) {
	in, ok := e.registry.Get(id)
	if !ok {
		return InstanceState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !in.Remote {
		return InstanceState{ID: id, Status: StatusLocal, Role: in.Role, Collections: e.local.Clone()}, true
	}
	st := InstanceState{ID: id, Status: StatusConnecting, Role: in.Role, Collections: model.Collections{}.Clone()}
	if ws, ok := e.workspaces[id]; ok {
		st.Status = ws.status
		st.Revision = ws.confirmed.Revision
		st.Collections = ws.view.Clone()
		st.PendingLocalChanges = len(ws.queue)
		st.LastSyncedAt = ws.lastSyncedAt
		st.LastError = ws.lastErr
	}
	return st, true
}

// Active returns the state of the active instance.
func (e *Engine) Active() InstanceState {
	st, _ := e.State(e.registry.Active().ID)
	return st
}

// workspace returns the state of id, creating it. Caller holds e.mu.
func (e *Engine) workspace(id string) *workspaceState {
	ws, ok := e.workspaces[id]
	if !ok {
		ws = &workspaceState{
			id:     id,
			status: StatusConnecting,
			view:   model.Collections{}.Clone(),
			wake:   make(chan struct{}, 1),
		}
		e.workspaces[id] = ws
	}
	return ws
}

// adopt replaces the confirmed snapshot unless snap is older than what is
// already held. Caller holds e.mu.
func (e *Engine) adopt(ws *workspaceState, snap model.Snapshot) {
	if ws.loaded && snap.Revision < ws.confirmed.Revision {
		logutils.Log.WithFields(logutils.Fields{
			"workspace_id": ws.id,
			"held":         ws.confirmed.Revision,
			"received":     snap.Revision,
		}).Debug("ignoring stale snapshot")
		e.rebuildView(ws)
		return
	}
	ws.confirmed = model.Snapshot{Revision: snap.Revision, Collections: snap.Collections.Clone()}
	ws.loaded = true
	e.rebuildView(ws)
}

// rebuildView replays queued mutations on top of the confirmed snapshot.
// Caller holds e.mu.
func (e *Engine) rebuildView(ws *workspaceState) {
	view := ws.confirmed.Collections.Clone()
	for _, j := range ws.queue {
		view.Set(j.key, j.transform(model.CloneItems(view.Get(j.key))))
	}
	ws.view = view
}

func (e *Engine) stateEvent(ws *workspaceState) Event {
	return Event{Kind: EventState, InstanceID: ws.id, Status: ws.status, Message: ws.lastErr}
}

// SwitchInstance makes id the active instance. Polling of the previous
// workspace stops; its dispatched writes keep running.
func (e *Engine) SwitchInstance(id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if err := e.registry.setActive(id); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", err, id)
	}
	e.stopPolling()
	if id == LocalInstanceID {
		e.mu.Unlock()
		e.publish(Event{Kind: EventState, InstanceID: id, Status: StatusLocal})
		return nil
	}

	ws := e.workspace(id)
	if e.online {
		ws.status = StatusConnecting
	} else {
		ws.status = StatusOffline
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.pollID, e.pollCancel = id, cancel
	e.wg.Add(1)
	go e.poll(ctx, id)
	ev := e.stateEvent(ws)
	e.mu.Unlock()

	e.publish(ev)
	return nil
}

// stopPolling cancels the current poller. Caller holds e.mu.
func (e *Engine) stopPolling() {
	if e.pollCancel != nil {
		e.pollCancel()
	}
	e.pollID, e.pollCancel = "", nil
}

func (e *Engine) poll(ctx context.Context, id string) {
	defer e.wg.Done()
	e.pollOnce(ctx, id)
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.pollOnce(ctx, id)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context, id string) {
	if !e.Online() {
		return
	}
	if err := e.refresh(ctx, id); err != nil && ctx.Err() == nil {
		logutils.Log.WithField("workspace_id", id).WithError(err).Debug("poll failed")
	}
}

// Online reports the connectivity last set with SetOnline.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline records a connectivity change. Going offline marks the active
// workspace offline; coming back marks it connecting and re-reads it.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	if e.closed || e.online == online {
		e.mu.Unlock()
		return
	}
	e.online = online
	if online {
		close(e.onlineCh)
	} else {
		e.onlineCh = make(chan struct{})
	}

	active := e.registry.Active()
	if !active.Remote {
		e.mu.Unlock()
		return
	}
	ws := e.workspace(active.ID)
	if online {
		ws.status = StatusConnecting
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			_ = e.refresh(e.ctx, active.ID)
		}()
	} else {
		ws.status = StatusOffline
	}
	ev := e.stateEvent(ws)
	e.mu.Unlock()

	e.publish(ev)
}

func (e *Engine) waitOnline(ctx context.Context) error {
	e.mu.Lock()
	ch := e.onlineCh
	e.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh re-reads the active workspace now.
func (e *Engine) Refresh(ctx context.Context) error {
	active := e.registry.Active()
	if !active.Remote {
		return nil
	}
	return e.refresh(ctx, active.ID)
}

// refresh coalesces concurrent reads of one workspace.
func (e *Engine) refresh(ctx context.Context, id string) error {
	_, err, _ := e.group.Do(id, func() (any, error) {
		return nil, e.fetch(ctx, id)
	})
	return err
}

func (e *Engine) fetch(ctx context.Context, id string) error {
	e.mu.Lock()
	ws, ok := e.workspaces[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	var since *int64
	if ws.loaded {
		rev := ws.confirmed.Revision
		since = &rev
	}
	e.mu.Unlock()

	res, err := e.remote.ReadCollections(ctx, id, since)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		e.failStatus(id, err)
		return err
	}

	e.mu.Lock()
	ws, ok = e.workspaces[id]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	// A snapshot read while our own write is outstanding may already contain
	// that write; the write's outcome is adopted when it settles instead.
	adopted := !res.Unchanged && ws.inflight == nil
	if adopted {
		e.adopt(ws, res.Snapshot)
	} else if !res.Unchanged {
		logutils.Log.WithFields(logutils.Fields{
			"workspace_id": id,
			"received":     res.Snapshot.Revision,
		}).Debug("deferring snapshot until the pending write settles")
	}
	ws.status = StatusSynced
	ws.lastSyncedAt = e.now()
	ws.lastErr = ""
	snap := model.Snapshot{Revision: ws.confirmed.Revision, Collections: ws.confirmed.Collections.Clone()}
	ev := e.stateEvent(ws)
	e.mu.Unlock()

	if adopted {
		e.persist(id, snap)
	}
	e.publish(ev)
	return nil
}

func (e *Engine) failStatus(id string, err error) {
	e.mu.Lock()
	ws, ok := e.workspaces[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	setFailure(ws, err)
	ev := e.stateEvent(ws)
	e.mu.Unlock()
	e.publish(ev)
}

func setFailure(ws *workspaceState, err error) {
	if isTransient(err) {
		ws.status = StatusOffline
	} else {
		ws.status = StatusError
	}
	ws.lastErr = err.Error()
}

func isTransient(err error) bool {
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// persist stores the confirmed snapshot and bumps the cached connection.
func (e *Engine) persist(id string, snap model.Snapshot) {
	in, ok := e.registry.Get(id)
	if !ok {
		return
	}
	ctx := context.Background()
	log := logutils.Log.WithField("workspace_id", id)
	if err := e.cache.SaveSnapshot(ctx, id, snap); err != nil {
		log.WithError(err).Warn("cache snapshot")
	}
	if err := e.cache.SaveConnection(ctx, Connection{
		WorkspaceID: id,
		Slug:        in.Slug,
		Role:        in.Role,
		DisplayName: in.DisplayName,
		Revision:    snap.Revision,
		UpdatedAt:   e.now(),
	}); err != nil {
		log.WithError(err).Warn("cache connection")
	}
}

// Mutate applies transform to key of the active instance. On a workspace the
// view changes immediately and the write is queued behind earlier ones; the
// returned PendingWrite settles once the server has answered.
func (e *Engine) Mutate(ctx context.Context, key model.CollectionKey, transform Transform) (*PendingWrite, error) {
	if transform == nil {
		return nil, errors.New("sync: nil transform")
	}
	active := e.registry.Active()
	if !active.Remote {
		return e.mutateLocal(ctx, key, transform)
	}
	if !access.CanWrite(active.Role) {
		e.publish(Event{Kind: EventNotice, InstanceID: active.ID, Message: ErrReadOnly.Error()})
		return nil, ErrReadOnly
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	ws := e.workspace(active.ID)
	guess := transform(model.CloneItems(ws.view.Get(key)))
	if guess == nil {
		guess = []model.Item{}
	}
	if err := model.ValidateItems(key, guess); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	pw := newPendingWrite(key, guess)
	ws.queue = append(ws.queue, &job{key: key, transform: transform, write: pw})
	ws.view.Set(key, guess)
	if !ws.running {
		ws.running = true
		e.wg.Add(1)
		go e.runQueue(ws.id)
	}
	select {
	case ws.wake <- struct{}{}:
	default:
	}
	ev := e.stateEvent(ws)
	e.mu.Unlock()

	e.publish(ev)
	return pw, nil
}

func (e *Engine) mutateLocal(ctx context.Context, key model.CollectionKey, transform Transform) (*PendingWrite, error) {
	e.mu.Lock()
	items := transform(model.CloneItems(e.local.Get(key)))
	if err := model.ValidateItems(key, items); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.local.Set(key, items)
	local := e.local.Clone()
	e.mu.Unlock()

	if err := e.cache.SaveLocal(ctx, local); err != nil {
		return nil, fmt.Errorf("save local collections: %w", err)
	}
	pw := newPendingWrite(key, items)
	pw.reconcile(model.Snapshot{Collections: local})
	e.publish(Event{Kind: EventState, InstanceID: LocalInstanceID, Status: StatusLocal})
	return pw, nil
}

// runQueue is the single writer of workspace id.
func (e *Engine) runQueue(id string) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		ws, ok := e.workspaces[id]
		if !ok {
			e.mu.Unlock()
			return
		}
		if len(ws.queue) == 0 {
			wake := ws.wake
			e.mu.Unlock()
			select {
			case <-wake:
				continue
			case <-e.ctx.Done():
				return
			}
		}
		j := ws.queue[0]
		loaded := ws.loaded
		e.mu.Unlock()

		if err := e.waitOnline(e.ctx); err != nil {
			e.finish(id, j, nil, ErrClosed)
			return
		}
		if !loaded {
			if err := e.refresh(e.ctx, id); err != nil {
				if errors.Is(err, context.Canceled) && e.ctx.Err() == nil {
					continue
				}
				e.finish(id, j, nil, err)
				continue
			}
		}

		e.mu.Lock()
		ws, ok = e.workspaces[id]
		if !ok {
			e.mu.Unlock()
			j.write.fail(model.Snapshot{}, ErrWorkspaceGone)
			return
		}
		base := model.Snapshot{Revision: ws.confirmed.Revision, Collections: ws.confirmed.Collections.Clone()}
		ws.inflight = j
		e.mu.Unlock()

		out, err := WriteWithRebase(e.ctx, e.remote, id, j.key, base, j.transform)
		e.finish(id, j, out, err)
	}
}

// finish settles j and folds its outcome into the workspace state.
func (e *Engine) finish(id string, j *job, out *Outcome, err error) {
	e.mu.Lock()
	ws, ok := e.workspaces[id]
	if !ok {
		e.mu.Unlock()
		if err != nil {
			j.write.fail(model.Snapshot{}, err)
		} else {
			j.write.reconcile(out.Snapshot)
		}
		return
	}
	if len(ws.queue) > 0 && ws.queue[0] == j {
		ws.queue = ws.queue[1:]
	}
	if ws.inflight == j {
		ws.inflight = nil
	}

	var terminal *TerminalConflictError
	log := logutils.Log.WithFields(logutils.Fields{"workspace_id": id, "collection": j.key})
	switch {
	case err == nil:
		e.adopt(ws, out.Snapshot)
		ws.status = StatusSynced
		ws.lastSyncedAt = e.now()
		ws.lastErr = ""
	case errors.As(err, &terminal):
		e.adopt(ws, terminal.Current)
		ws.status = StatusError
		ws.lastErr = terminal.Error()
		log.Info("write abandoned after rebase conflict")
	case e.ctx.Err() != nil:
		e.rebuildView(ws)
		err = ErrClosed
	default:
		e.rebuildView(ws)
		setFailure(ws, err)
		log.WithError(err).Info("write failed")
	}
	truth := model.Snapshot{Revision: ws.confirmed.Revision, Collections: ws.confirmed.Collections.Clone()}
	loaded := ws.loaded
	ev := e.stateEvent(ws)
	e.mu.Unlock()

	if err == nil {
		j.write.reconcile(truth)
	} else {
		j.write.fail(truth, err)
	}
	if errors.Is(err, ErrClosed) {
		return
	}
	if loaded {
		e.persist(id, truth)
	}
	e.publish(ev)
}

// join registers a workspace the user just created or joined.
func (e *Engine) join(in Instance, snap *model.Snapshot) {
	e.registry.put(in)
	e.mu.Lock()
	ws := e.workspace(in.ID)
	var confirmed model.Snapshot
	if snap != nil {
		e.adopt(ws, *snap)
		confirmed = ws.confirmed
	}
	e.mu.Unlock()

	if snap != nil {
		e.persist(in.ID, confirmed)
		return
	}
	if err := e.cache.SaveConnection(context.Background(), Connection{
		WorkspaceID: in.ID,
		Slug:        in.Slug,
		Role:        in.Role,
		DisplayName: in.DisplayName,
		UpdatedAt:   e.now(),
	}); err != nil {
		logutils.Log.WithField("workspace_id", in.ID).WithError(err).Warn("cache connection")
	}
}

// forget drops every trace of workspace id: registry entry, state, queued
// writes and cache.
func (e *Engine) forget(ctx context.Context, id string) error {
	e.mu.Lock()
	var dropped []*job
	if ws, ok := e.workspaces[id]; ok {
		// a dispatched write is settled by its writer
		for _, j := range ws.queue {
			if j != ws.inflight {
				dropped = append(dropped, j)
			}
		}
		delete(e.workspaces, id)
		select {
		case ws.wake <- struct{}{}:
		default:
		}
	}
	if e.pollID == id {
		e.stopPolling()
	}
	wasActive := e.registry.remove(id)
	e.mu.Unlock()

	for _, j := range dropped {
		j.write.fail(model.Snapshot{}, ErrWorkspaceGone)
	}
	if wasActive {
		e.publish(Event{Kind: EventState, InstanceID: LocalInstanceID, Status: StatusLocal})
	}
	return e.cache.DeleteConnection(ctx, id)
}

// Hydrate reconciles the registry with the server's membership list,
// forgetting workspaces the user can no longer access.
func (e *Engine) Hydrate(ctx context.Context) error {
	e.mu.Lock()
	before := e.registry.Active().ID
	e.mu.Unlock()

	removed, err := e.registry.Hydrate(ctx, e.remote)
	if err != nil {
		return fmt.Errorf("hydrate registry: %w", err)
	}
	for _, in := range e.registry.Instances() {
		if !in.Remote {
			continue
		}
		e.mu.Lock()
		ws := e.workspace(in.ID)
		rev := ws.confirmed.Revision
		e.mu.Unlock()
		if err := e.cache.SaveConnection(ctx, Connection{
			WorkspaceID: in.ID,
			Slug:        in.Slug,
			Role:        in.Role,
			DisplayName: in.DisplayName,
			Revision:    rev,
			UpdatedAt:   e.now(),
		}); err != nil {
			return fmt.Errorf("cache connection %s: %w", in.ID, err)
		}
	}

	for _, id := range removed {
		if err := e.forget(ctx, id); err != nil {
			return err
		}
		if id == before {
			// the registry already fell back to local
			e.publish(Event{Kind: EventState, InstanceID: LocalInstanceID, Status: StatusLocal})
		}
	}
	return nil
}

// CreateWorkspace creates a workspace on the server, optionally seeded with
// the local instance's collections, and registers it.
func (e *Engine) CreateWorkspace(ctx context.Context, displayName string, seedFromLocal bool) (*model.Workspace, error) {
	var seed *model.Collections
	if seedFromLocal {
		e.mu.Lock()
		c := e.local.Clone()
		e.mu.Unlock()
		seed = &c
	}
	ws, err := e.remote.CreateWorkspace(ctx, displayName, seed)
	if err != nil {
		return nil, err
	}
	snap := model.Snapshot{Revision: ws.Revision, Collections: model.Collections{}.Clone()}
	if seed != nil {
		snap.Collections = seed.Clone()
	}
	e.join(Instance{
		ID:          ws.ID,
		Slug:        ws.Slug,
		DisplayName: ws.DisplayName,
		Role:        model.RoleAdmin,
		CanInvite:   true,
	}, &snap)
	return ws, nil
}

// ConsumeInvite redeems an invite and registers the joined workspace.
func (e *Engine) ConsumeInvite(ctx context.Context, slug, code string) (*model.Workspace, error) {
	ws, m, err := e.remote.ConsumeInvite(ctx, slug, code)
	if err != nil {
		return nil, err
	}
	in := Instance{ID: ws.ID, Slug: ws.Slug, DisplayName: ws.DisplayName, Role: model.RoleViewer}
	if m != nil {
		in.Role = m.Role
		in.CanInvite = m.CanInvite
	}
	e.join(in, nil)
	return ws, nil
}

// Leave leaves a workspace on the server and forgets it locally.
func (e *Engine) Leave(ctx context.Context, workspaceID string) error {
	if err := e.remote.LeaveWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	return e.forget(ctx, workspaceID)
}
