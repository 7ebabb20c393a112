package session

import (
	"sync"
	"time"

	"github.com/andrei-shtanakov/collab-editor/internal/models"
	"github.com/andrei-shtanakov/collab-editor/internal/protocol"
	"github.com/andrei-shtanakov/collab-editor/internal/store"
	"github.com/andrei-shtanakov/collab-editor/internal/utils"
)

// Registry maps session ids to live hubs, creating a hub on first
// connection and tearing it down when its grace period elapses. At most
// one hub exists per session id.
type Registry struct {
	mu    sync.Mutex
	store *store.Store
	hubs  map[string]*Hub
	opts  Options
	log   *utils.Logger

	// idleHook, if set, runs after a session is marked idle. Used to
	// publish lifecycle events without the registry knowing about them.
	idleHook func(sessionID string)
}

func NewRegistry(st *store.Store, opts Options, log *utils.Logger) *Registry {
	return &Registry{
		store: st,
		hubs:  make(map[string]*Hub),
		opts:  opts,
		log:   log,
	}
}

func (r *Registry) SetIdleHook(fn func(sessionID string)) {
	r.mu.Lock()
	r.idleHook = fn
	r.mu.Unlock()
}

// Acquire returns the hub for a session, creating it if the session is
// active in the store. Unknown, idle or deleted sessions fail with
// store.ErrNotFound.
func (r *Registry) Acquire(sessionID string) (*Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hubs[sessionID]; ok {
		return h, nil
	}
	// Validated under the registry lock: idle disposal also holds it, so
	// a disposed session cannot be revived with its stale document.
	rec, err := r.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusActive || rec.Doc == nil {
		return nil, store.ErrNotFound
	}
	h := newHub(sessionID, rec.Doc, r.opts, r.log, nil)
	h.onDispose = func() { r.disposeIdle(sessionID, h) }
	r.hubs[sessionID] = h
	go h.run()
	r.store.Touch(sessionID)
	r.log.Info("hub created", "session", sessionID)
	return h, nil
}

// disposeIdle runs on the hub goroutine when its grace period fires.
// The hub is deregistered before the session flips to idle, so a
// concurrent Acquire either reuses the old hub or sees the idle status.
func (r *Registry) disposeIdle(sessionID string, h *Hub) {
	r.mu.Lock()
	if r.hubs[sessionID] != h {
		r.mu.Unlock()
		return
	}
	delete(r.hubs, sessionID)
	hook := r.idleHook
	// Marked idle under the registry lock so a concurrent Acquire sees
	// either the live hub or the idle status, never a gap.
	r.store.MarkIdle(sessionID)
	r.mu.Unlock()

	r.log.Info("hub disposed after grace period", "session", sessionID)
	if hook != nil {
		hook(sessionID)
	}
}

// Teardown closes every connection of a session's hub with a "session
// closed" reason and removes the hub. A session without a hub is a
// no-op.
func (r *Registry) Teardown(sessionID string) {
	r.mu.Lock()
	h, ok := r.hubs[sessionID]
	if ok {
		delete(r.hubs, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	h.Shutdown(protocol.CloseSessionDeleted, "session closed")
	r.log.Info("hub torn down", "session", sessionID)
}

// Participants reports the live connection count for a session; zero
// when no hub exists. Never stored, so never stale.
func (r *Registry) Participants(sessionID string) int {
	r.mu.Lock()
	h, ok := r.hubs[sessionID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return h.ClientCount()
}

// HasHub reports whether a session currently has a live hub.
func (r *Registry) HasHub(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.hubs[sessionID]
	return ok
}

// ExpireStale removes sessions inactive for longer than ttl. The hub
// check and the delete share the registry lock, so a concurrent connect
// either creates the hub first (which keeps the session) or finds the
// record already gone; it can never end up on a deleted session.
func (r *Registry) ExpireStale(ttl time.Duration) int {
	removed := 0
	for _, id := range r.store.StaleIDs(ttl) {
		r.mu.Lock()
		if _, live := r.hubs[id]; !live && r.store.DeleteStale(id, ttl) {
			removed++
		}
		r.mu.Unlock()
	}
	if removed > 0 {
		r.log.Info("expired stale sessions", "count", removed)
	}
	return removed
}

// Shutdown tears down every hub; used at process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for id, h := range r.hubs {
		hubs = append(hubs, h)
		delete(r.hubs, id)
	}
	r.mu.Unlock()
	for _, h := range hubs {
		h.Shutdown(protocol.CloseSessionDeleted, "server shutting down")
	}
}
