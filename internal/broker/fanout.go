// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package broker

import (
	"github.com/rapidaai/sonju/internal/upstream"
)

// fanOut is the single consumer of one session's upstream event feed,
// translating every event into the client envelope spec.md §4.6's
// fan-out table specifies. It returns once the feed is closed (upstream
// session torn down) or a terminal error/closed event has been
// forwarded, and then closes the client connection itself — a stuck
// client socket must never keep a dead upstream session's goroutine
// alive.
func (b *Broker) fanOut(sess *clientSession) {
	for ev := range sess.upstream.Events() {
		terminal := b.forwardEvent(sess, ev)
		if terminal {
			break
		}
	}
	sess.conn.close()
}

// forwardEvent writes the client envelope for ev, if any, and reports
// whether the event is terminal for the session.
func (b *Broker) forwardEvent(sess *clientSession, ev upstream.Event) (terminal bool) {
	switch ev.Type {
	case upstream.EventTextDelta:
		p, _ := ev.Payload.(upstream.DeltaPayload)
		b.writeConversation(sess, "response.text.delta", p.OutputIndex, p.Delta)
	case upstream.EventTextDone:
		p, _ := ev.Payload.(upstream.DeltaPayload)
		b.writeConversation(sess, "response.text.done", p.OutputIndex, "")
	case upstream.EventAudioTranscriptDelta:
		p, _ := ev.Payload.(upstream.DeltaPayload)
		b.writeConversation(sess, "response.audio_transcript.delta", p.OutputIndex, p.Delta)
	case upstream.EventAudioTranscriptDone:
		p, _ := ev.Payload.(upstream.DeltaPayload)
		b.writeConversation(sess, "response.audio_transcript.done", p.OutputIndex, "")
	case upstream.EventAudioDelta:
		p, _ := ev.Payload.(upstream.DeltaPayload)
		b.writeConversation(sess, "response.audio.delta", p.OutputIndex, p.Delta)
	case upstream.EventAudioDone:
		p, _ := ev.Payload.(upstream.DeltaPayload)
		b.writeConversation(sess, "response.audio.done", p.OutputIndex, "")
	case upstream.EventError:
		p, _ := ev.Payload.(upstream.ErrorPayload)
		_ = sess.conn.writeJSON(map[string]interface{}{
			"channel": channelError,
			"code":    p.Code,
			"message": p.Message,
			"raw":     p.Raw,
		})
		return true
	case upstream.EventClosed:
		p, _ := ev.Payload.(upstream.ErrorPayload)
		code := p.Code
		if code == 0 {
			code = 1011
		}
		_ = sess.conn.writeJSON(map[string]interface{}{
			"channel": channelError,
			"code":    code,
			"reason":  "upstream closed",
		})
		return true
	}
	return false
}

func (b *Broker) writeConversation(sess *clientSession, msgType string, outputIndex int, delta string) {
	env := map[string]interface{}{
		"channel":      channelConversation,
		"type":         msgType,
		"output_index": outputIndex,
	}
	if delta != "" {
		env["delta"] = delta
	}
	if err := sess.conn.writeJSON(env); err != nil {
		b.logger.Warnw("broker: failed to write client envelope", "session_id", sess.id, "err", err)
	}
}
