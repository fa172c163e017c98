// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package upstream

// connState is the Upstream Session's per-socket state machine, per
// spec.md §4.3's state table.
type connState int

const (
	stateConnecting connState = iota
	stateReady
	stateAwaitingResponse
	stateUpdating
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	case stateAwaitingResponse:
		return "awaiting_response"
	case stateUpdating:
		return "updating"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// setState transitions the session's state under its state mutex. The
// Upstream Session has a single reader goroutine; socket writes (from
// the Broker's calls, the read loop's tool.output replies, and the
// keepalive ping) are serialized by writeMu, so this mutex only
// protects the state field itself, never I/O.
func (s *Session) setState(next connState) {
	s.stateMu.Lock()
	s.state = next
	s.stateMu.Unlock()
}

func (s *Session) getState() connState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) isClosed() bool {
	return s.getState() == stateClosed
}
