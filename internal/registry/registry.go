// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package registry is the process-wide session-id -> Session map,
// per spec.md §4.2. It is adapted from internal_callcontext.Store's
// interface shape (Save/Get/Claim/Delete) in iamprashant-voice-ai,
// narrowed to the spec's in-memory, no-orphans contract: every
// operation is O(1) under a single RWMutex, and long work (retrieval,
// socket I/O) never happens while the lock is held.
package registry

import (
	"sync"

	"github.com/rapidaai/sonju/internal/brokererr"
	"github.com/rapidaai/sonju/internal/session"
)

// Registry is a concurrent session-id -> *session.Session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	// mirror, if set, is notified of lifecycle events for cross-instance
	// observability (SPEC_FULL.md §4.2). It is best-effort: failures are
	// logged by the mirror implementation itself and never affect the
	// in-memory registry, which stays authoritative per spec.md §3/§8.
	mirror Mirror
}

// Mirror receives best-effort lifecycle notifications from the
// Registry. See internal/registry/redismirror.go for the Redis-backed
// implementation; nil is valid and means "no mirror".
type Mirror interface {
	SessionCreated(id string)
	SessionRemoved(id string)
}

// New creates an empty Registry. mirror may be nil.
func New(mirror Mirror) *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
		mirror:   mirror,
	}
}

// Insert adds s to the registry. Fails with brokererr.ErrAlreadyExists
// if the id is already held, per spec.md §4.2.
func (r *Registry) Insert(s *session.Session) error {
	r.mu.Lock()
	if _, exists := r.sessions[s.ID]; exists {
		r.mu.Unlock()
		return brokererr.ErrAlreadyExists
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if r.mirror != nil {
		r.mirror.SessionCreated(s.ID)
	}
	return nil
}

// Lookup returns the session for id, if present.
func (r *Registry) Lookup(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes id from the registry. It is idempotent: removing an
// absent id is a no-op, since teardown can be triggered from more than
// one direction (client close, upstream close, fatal error) per
// spec.md §3 "Ownership".
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, existed := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if existed && r.mirror != nil {
		r.mirror.SessionRemoved(id)
	}
}

// Len returns the current number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for every registered session, on a snapshot taken
// under the read lock, so the lock is not held while fn runs. The
// Broker's heartbeat scans its own connection set and does not call
// Range.
func (r *Registry) Range(fn func(s *session.Session)) {
	r.mu.RLock()
	snapshot := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}
