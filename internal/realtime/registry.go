package realtime

import (
	"log/slog"
	"sync"
)

// Registry tracks which identities are connected and through which handles.
// One user may hold several live handles; delivery targets all of them.
// Pure in-memory state, rebuilt from scratch on restart.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	byUser  map[string]map[string]*Client // user id -> handle id -> client
	handles int
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:    log,
		byUser: make(map[string]map[string]*Client),
	}
}

// Register adds a handle for the client's identity. Idempotent per handle id.
func (r *Registry) Register(client *Client) {
	if r == nil || client == nil || client.UserID == "" || client.HandleID == "" {
		return
	}

	r.mu.Lock()
	set, ok := r.byUser[client.UserID]
	if !ok {
		set = make(map[string]*Client)
		r.byUser[client.UserID] = set
	}
	if _, exists := set[client.HandleID]; !exists {
		set[client.HandleID] = client
		r.handles++
	}
	r.mu.Unlock()

	r.log.Info("registry.register", "user_id", client.UserID, "handle_id", client.HandleID)
}

// Unregister removes a handle and reports whether it was the identity's last
// one. Unknown handles are ignored and report false.
func (r *Registry) Unregister(userID, handleID string) (last bool) {
	if r == nil || userID == "" || handleID == "" {
		return false
	}

	var cl *Client

	r.mu.Lock()
	set, ok := r.byUser[userID]
	if ok {
		if c, exists := set[handleID]; exists {
			cl = c
			delete(set, handleID)
			r.handles--
		}
		if len(set) == 0 {
			delete(r.byUser, userID)
			last = cl != nil
		}
	}
	r.mu.Unlock()

	// Signal client shutdown after removing it from the registry so no
	// broadcaster picks up a handle that is being torn down.
	if cl != nil {
		cl.Close()
		r.log.Info("registry.unregister", "user_id", userID, "handle_id", handleID, "last", last)
	}
	return last
}

// HandlesFor returns a snapshot of the identity's live handles.
func (r *Registry) HandlesFor(userID string) []*Client {
	if r == nil || userID == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Online reports whether the identity has at least one live handle.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// HandleCount returns the total number of live handles.
func (r *Registry) HandleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles
}
