// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package session holds the per-session data model shared by the
// broker, the upstream session, and the tool executor: Session,
// PendingToolCall, and RagCacheEntry, per spec.md §3.
package session

import (
	"strings"
	"sync"
	"time"
)

// RagCacheTTL is the lifetime of a cached retrieval result, per spec.md §3.
const RagCacheTTL = 5 * time.Minute

// ToolCallSpacing is the minimum gap enforced between two rag_search
// dispatches within one session, per spec.md §4.4.
const ToolCallSpacing = 1200 * time.Millisecond

// LowConfidenceEscalateAt is the counter value from which on the
// low-confidence reply advises contacting a human operator, per
// spec.md §4.4 and §8.
const LowConfidenceEscalateAt = 3

// PendingToolCall accumulates the streamed argument text for one
// in-flight function call until its ...done event arrives.
type PendingToolCall struct {
	CallID   string
	Name     string
	Args     strings.Builder
}

// RagCacheEntry is a single cached retrieval result, keyed by the
// normalized query elsewhere (see NormalizeQuery).
type RagCacheEntry struct {
	NormalizedQuery string
	Context         string
	SourceIDs       []string
	InsertedAt      time.Time
}

// Expired reports whether the entry has outlived RagCacheTTL as of now.
func (e *RagCacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > RagCacheTTL
}

// Session is one logical conversation bound to exactly one client
// socket and one upstream socket, per spec.md §3's invariants. All
// fields below except the mutex are touched only from the single
// goroutine tree that owns this session (the owning client task),
// per spec.md §5 — the mutex guards only Paused, through SetPaused and
// IsPaused.
type Session struct {
	mu sync.Mutex

	ID        string
	CreatedAt time.Time
	Paused    bool

	// InstructionHash is not written by the Upstream Session, which
	// keeps the hash used to suppress duplicate session.update
	// submissions in its own field.
	InstructionHash string

	// LowConfidenceCount escalates after three consecutive low-confidence
	// rag_search results and resets to 0 on any confident result.
	LowConfidenceCount int

	// LastToolAt is the timestamp of the last dispatched rag_search call,
	// used to enforce ToolCallSpacing.
	LastToolAt time.Time

	// PendingToolCalls maps call_id -> accumulating argument buffer.
	PendingToolCalls map[string]*PendingToolCall

	// RagCache holds at most one cached entry per normalized query,
	// evicted on TTL expiry or session teardown.
	RagCache map[string]*RagCacheEntry
}

// New creates a Session with the given id, ready for use.
func New(id string) *Session {
	return &Session{
		ID:               id,
		CreatedAt:        time.Now(),
		PendingToolCalls: make(map[string]*PendingToolCall),
		RagCache:         make(map[string]*RagCacheEntry),
	}
}

// BeginToolCall creates (or returns the existing) pending call for
// callID, appending the first delta. Safe to call repeatedly for the
// same call id — each call appends to the existing buffer.
func (s *Session) BeginToolCall(callID, name, delta string) *PendingToolCall {
	pc, ok := s.PendingToolCalls[callID]
	if !ok {
		pc = &PendingToolCall{CallID: callID, Name: name}
		s.PendingToolCalls[callID] = pc
	}
	pc.Args.WriteString(delta)
	return pc
}

// FinishToolCall removes and returns the pending call for callID, if any.
func (s *Session) FinishToolCall(callID string) (*PendingToolCall, bool) {
	pc, ok := s.PendingToolCalls[callID]
	if ok {
		delete(s.PendingToolCalls, callID)
	}
	return pc, ok
}

// CanDispatchTool reports whether enough time has elapsed since the
// last tool dispatch, and if so, records now as the new LastToolAt.
func (s *Session) CanDispatchTool(now time.Time) bool {
	if !s.LastToolAt.IsZero() && now.Sub(s.LastToolAt) < ToolCallSpacing {
		return false
	}
	s.LastToolAt = now
	return true
}

// RecordLowConfidence increments and returns the session's low-confidence streak.
func (s *Session) RecordLowConfidence() int {
	s.LowConfidenceCount++
	return s.LowConfidenceCount
}

// ResetLowConfidence clears the low-confidence streak on a confident result.
func (s *Session) ResetLowConfidence() {
	s.LowConfidenceCount = 0
}

// CacheGet returns a live (non-expired) cache entry for the normalized
// query, evicting it first if it has expired.
func (s *Session) CacheGet(normalizedQuery string) (*RagCacheEntry, bool) {
	entry, ok := s.RagCache[normalizedQuery]
	if !ok {
		return nil, false
	}
	if entry.Expired(time.Now()) {
		delete(s.RagCache, normalizedQuery)
		return nil, false
	}
	return entry, true
}

// CachePut inserts or replaces the cache entry for a normalized query.
func (s *Session) CachePut(entry *RagCacheEntry) {
	entry.InsertedAt = time.Now()
	s.RagCache[entry.NormalizedQuery] = entry
}

// SetPaused safely updates the paused flag; guarded because the
// heartbeat/registry code may read it concurrently with the owning
// goroutine.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = paused
}

// IsPaused safely reads the paused flag.
func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Paused
}

// NormalizeQuery collapses whitespace and lowercases q, the RAG cache
// key derivation specified in spec.md §9.
func NormalizeQuery(q string) string {
	fields := strings.Fields(strings.ToLower(q))
	return strings.Join(fields, " ")
}
