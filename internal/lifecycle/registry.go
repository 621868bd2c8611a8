// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package lifecycle

import "sync"

// Registry is the in-memory map of live session handles. All access is
// through the mutex; handles carry their own synchronization for the
// reconnect bookkeeping.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Put installs the handle, returning the previous handle for the same
// session ID, if any.
func (r *Registry) Put(h *Handle) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.handles[h.SessionID]
	r.handles[h.SessionID] = h
	return prev
}

// Get returns the handle for a session ID, or nil.
func (r *Registry) Get(sessionID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[sessionID]
}

// Remove deletes the handle for sessionID only if it is still the given
// handle, so a stale teardown cannot evict a newer connection.
func (r *Registry) Remove(sessionID string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.handles[sessionID]
	if !ok || cur != h {
		return false
	}
	delete(r.handles, sessionID)
	return true
}

// List returns a snapshot of all handles.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
