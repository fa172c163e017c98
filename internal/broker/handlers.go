// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package broker

import (
	"encoding/json"

	"github.com/rapidaai/sonju/internal/audio"
	"github.com/rapidaai/sonju/internal/upstream"
)

// handleBinaryFrame treats an inbound binary frame as raw PCM16, frames
// it, and appends every chunk to the upstream audio buffer, per
// spec.md §4.6 step 4.
func (b *Broker) handleBinaryFrame(sess *clientSession, data []byte) {
	chunks, err := audio.ToBase64Chunks(data, audio.DefaultChunkSize)
	if err != nil {
		_ = sess.conn.writeJSON(errorEnvelope(400, "invalid audio: "+err.Error()))
		return
	}
	for _, chunk := range chunks {
		if err := sess.upstream.AppendAudio(chunk); err != nil {
			_ = sess.conn.writeJSON(errorEnvelope(400, err.Error()))
			return
		}
	}
}

// handleTextFrame JSON-decodes an inbound text frame and routes it by
// channel, per spec.md §4.6 steps 4-5.
func (b *Broker) handleTextFrame(sess *clientSession, data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Channel == "" {
		_ = sess.conn.writeJSON(errorEnvelope(400, "invalid message"))
		return
	}

	switch env.Channel {
	case channelConversation:
		b.handleConversation(sess, env)
	case channelSummarize:
		_ = sess.conn.writeJSON(summaryImageEnvelope())
	case channelSuggestedQuestion, channelOfficeInfo:
		// receive-only channels; inbound frames are ignored.
	default:
		_ = sess.conn.writeJSON(errorEnvelope(400, "unknown channel"))
	}
}

func (b *Broker) handleConversation(sess *clientSession, env inboundEnvelope) {
	if env.Type == "" {
		_ = sess.conn.writeJSON(errorEnvelope(400, "missing type"))
		return
	}

	switch env.Type {
	case typeAudioBufferCommit:
		if err := sess.upstream.ClearAudio(); err != nil {
			_ = sess.conn.writeJSON(errorEnvelope(400, err.Error()))
		}
	case typeAudioBufferAppend:
		_ = sess.conn.writeJSON(errorEnvelope(400, "input_audio_buffer.append must be sent as a binary frame"))
	case typeAudioBufferEnd:
		modalities := []upstream.Modality{upstream.ModalityText, upstream.ModalityAudio}
		if err := sess.upstream.CommitAudio(modalities); err != nil {
			_ = sess.conn.writeJSON(errorEnvelope(400, err.Error()))
		}
	case typeInputText:
		modalities := []upstream.Modality{upstream.ModalityText, upstream.ModalityAudio}
		if err := sess.upstream.SendText(env.Text, modalities); err != nil {
			_ = sess.conn.writeJSON(errorEnvelope(400, err.Error()))
		}
	case typePreprompted:
		_ = sess.conn.writeJSON(prepromptedDoneEnvelope(env.Enum))
	default:
		// unrecognized conversation sub-types are ignored, per spec.md §4.6.
	}
}
