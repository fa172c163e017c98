// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package upstream

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
)

// readLoop is the Session's single reader goroutine: it decodes every
// inbound frame, dispatches function_call.arguments.* events to the
// Tool Executor via domain's coalescing buffers, and publishes
// everything else as a typed Event, per spec.md §4.3.
//
// readLoop is the only goroutine that ever calls publish, so it is also
// the only goroutine allowed to close s.events: closing it here, after
// the final publish, means no other goroutine can observe (or race
// against) a send on a closed channel. Close() only tears down the
// socket; it never closes s.events itself.
func (s *Session) readLoop() {
	var closeCode int
	defer func() {
		s.setState(stateClosed)
		s.publish(Event{SessionID: s.id, Type: EventClosed, Payload: ErrorPayload{Code: closeCode}})
		close(s.events)
	}()

	s.conn.SetPongHandler(func(string) error { return nil })

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			closeCode = closeCodeFromErr(err)
			if s.isClosed() {
				return
			}
			s.logger.Warnw("upstream: read loop terminating", "err", err)
			s.publish(Event{SessionID: s.id, Type: EventError, Payload: ErrorPayload{Code: closeCode, Message: err.Error()}})
			return
		}
		s.handleFrame(data)
	}
}

// closeCodeFromErr extracts the WebSocket close code from a read error,
// if the error is a close frame; 0 for any other kind of read failure
// (e.g. a plain network error with no close code).
func closeCodeFromErr(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return 0
}

func (s *Session) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warnw("upstream: failed to decode inbound frame", "err", err)
		return
	}

	switch frame.Type {
	case eventSessionCreated:
		s.setState(stateReady)
		s.publish(Event{SessionID: s.id, Type: EventSessionCreated})
	case eventSessionUpdated:
		s.publish(Event{SessionID: s.id, Type: EventSessionUpdated})
	case eventResponseTextDelta:
		var p inboundTextDelta
		_ = json.Unmarshal(data, &p)
		s.accumulateAwaitDelta(p.Delta)
		s.publish(Event{SessionID: s.id, Type: EventTextDelta, Payload: DeltaPayload{OutputIndex: p.OutputIndex, Delta: p.Delta}})
	case eventResponseTextDone:
		var p inboundTextDone
		_ = json.Unmarshal(data, &p)
		s.publish(Event{SessionID: s.id, Type: EventTextDone, Payload: DeltaPayload{OutputIndex: p.OutputIndex}})
		s.resolveAwaitDone()
	case eventResponseAudioDelta:
		var p inboundTextDelta
		_ = json.Unmarshal(data, &p)
		s.publish(Event{SessionID: s.id, Type: EventAudioDelta, Payload: DeltaPayload{OutputIndex: p.OutputIndex, Delta: p.Delta}})
	case eventResponseAudioDone:
		var p inboundTextDone
		_ = json.Unmarshal(data, &p)
		s.publish(Event{SessionID: s.id, Type: EventAudioDone, Payload: DeltaPayload{OutputIndex: p.OutputIndex}})
	case eventResponseAudioTranscriptDelta:
		var p inboundTextDelta
		_ = json.Unmarshal(data, &p)
		s.publish(Event{SessionID: s.id, Type: EventAudioTranscriptDelta, Payload: DeltaPayload{OutputIndex: p.OutputIndex, Delta: p.Delta}})
	case eventResponseAudioTranscriptDone:
		var p inboundTextDone
		_ = json.Unmarshal(data, &p)
		s.publish(Event{SessionID: s.id, Type: EventAudioTranscriptDone, Payload: DeltaPayload{OutputIndex: p.OutputIndex}})
	case eventFunctionCallArgsDelta:
		var p inboundFunctionCallArgsDelta
		_ = json.Unmarshal(data, &p)
		if s.domain != nil {
			s.domain.BeginToolCall(p.CallID, p.Name, p.Delta)
		}
	case eventFunctionCallArgsDone:
		var p inboundFunctionCallArgsDone
		_ = json.Unmarshal(data, &p)
		s.dispatchFinishedToolCall(p.CallID)
	case eventResponseDone:
		s.setState(stateReady)
		s.publish(Event{SessionID: s.id, Type: EventResponseDone})
	case eventError, eventResponseError:
		var p inboundErrorPayload
		_ = json.Unmarshal(data, &p)
		s.publish(Event{SessionID: s.id, Type: EventError, Payload: ErrorPayload{Code: intCode(p.Code), Message: p.Message, Raw: string(data)}})
		s.resolveAwaitErr(p.Message)
	default:
		s.logger.Warnw("upstream: unrecognized inbound frame type", "type", frame.Type)
	}
}

// dispatchFinishedToolCall reassembles the full argument string for
// callID and hands it to the Tool Executor, then relays the returned
// output back upstream as a tool.output frame, per spec.md §4.4.
func (s *Session) dispatchFinishedToolCall(callID string) {
	if s.domain == nil || s.toolDispatch == nil {
		return
	}
	pending, ok := s.domain.FinishToolCall(callID)
	if !ok {
		s.logger.Warnw("upstream: function_call.arguments.done for unknown call id", "call_id", callID)
		return
	}

	output := s.toolDispatch.Dispatch(context.Background(), s.id, callID, pending.Name, pending.Args.String())
	if err := s.SendToolOutput(callID, output); err != nil {
		s.logger.Warnw("upstream: failed to send tool output", "call_id", callID, "err", err)
	}
}

// accumulateAwaitDelta feeds response.text.delta payloads into the
// in-flight SendTextAwait buffer, if any.
func (s *Session) accumulateAwaitDelta(delta string) {
	s.awaitMu.Lock()
	aw := s.awaiting
	s.awaitMu.Unlock()
	if aw == nil {
		return
	}
	aw.acc += delta
}

func (s *Session) resolveAwaitDone() {
	s.awaitMu.Lock()
	aw := s.awaiting
	s.awaitMu.Unlock()
	if aw == nil {
		return
	}
	select {
	case aw.text <- aw.acc:
	default:
	}
}

func (s *Session) resolveAwaitErr(msg string) {
	s.awaitMu.Lock()
	aw := s.awaiting
	s.awaitMu.Unlock()
	if aw == nil {
		return
	}
	select {
	case aw.err <- &upstreamError{msg: msg}:
	default:
	}
}

type upstreamError struct{ msg string }

func (e *upstreamError) Error() string { return e.msg }
