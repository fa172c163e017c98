// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package upstream

// EventType names one event the Upstream Session publishes to its
// subscribers. Internal-only events (function_call.arguments.*) never
// appear here — they're consumed entirely inside the Session and
// routed to the Tool Executor, per spec.md §4.3.
type EventType string

const (
	EventTextDelta             EventType = "text_delta"
	EventTextDone              EventType = "text_done"
	EventAudioDelta            EventType = "audio_delta"
	EventAudioDone             EventType = "audio_done"
	EventResponseDone          EventType = "response_done"
	EventAudioTranscriptDelta  EventType = "audio_transcript_delta"
	EventAudioTranscriptDone   EventType = "audio_transcript_done"
	EventSessionCreated        EventType = "session_created"
	EventSessionUpdated        EventType = "session_updated"
	EventError                 EventType = "error"
	EventClosed                EventType = "closed"
)

// Event is one item on a Session's event feed: {sessionId, payload},
// per spec.md §4.3. Payload is one of the typed *Payload structs below.
type Event struct {
	SessionID string
	Type      EventType
	Payload   interface{}
}

// DeltaPayload carries output_index/delta for *_delta and *_done events
// (Delta is empty on *_done).
type DeltaPayload struct {
	OutputIndex int
	Delta       string
}

// ErrorPayload carries the details of an error or closed event, per
// spec.md §4.6's fan-out mapping to openai:error envelopes.
type ErrorPayload struct {
	Code    int
	Message string
	Raw     string
}

// eventChannelSize bounds how many events can be buffered before the
// subscriber is considered too slow; the Broker's single consumer
// goroutine per session should never let this fill under normal load.
const eventChannelSize = 64

// publish sends ev on the session's event channel, dropping it (with a
// warning) rather than blocking the upstream read loop if the
// subscriber has fallen behind — a single stuck client must never
// stall another session's upstream socket (spec.md §5).
func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warnw("upstream: event channel full, dropping event", "session_id", s.id, "type", ev.Type)
	}
}

// Events returns the read-only event feed for this session. There is
// exactly one feed per session, read by exactly one Broker goroutine
// (spec.md §9's per-session typed channel design note).
func (s *Session) Events() <-chan Event {
	return s.events
}
