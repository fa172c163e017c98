// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package broker

// Channel names routed by the Broker, per spec.md §4.6/§6.
const (
	channelConversation      = "openai:conversation"
	channelSummarize         = "sonju:summarize"
	channelSuggestedQuestion = "sonju:suggestedQuestion"
	channelOfficeInfo        = "sonju:officeInfo"
	channelError             = "openai:error"
)

// Conversation-channel message types.
const (
	typeAudioBufferCommit = "input_audio_buffer.commit"
	typeAudioBufferAppend = "input_audio_buffer.append"
	typeAudioBufferEnd    = "input_audio_buffer.end"
	typeInputText         = "input_text"
	typePreprompted       = "preprompted"
)

// cannedSummaryPNG is the exact 1x1 transparent PNG payload spec.md §9
// requires be preserved byte-for-byte pending a real upstream summarizer.
const cannedSummaryPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

// inboundEnvelope is the shape every inbound text frame is parsed into,
// per spec.md §6. Not every field applies to every channel/type.
type inboundEnvelope struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Text    string `json:"text"`
	Enum    string `json:"enum"`
}

func errorEnvelope(code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"channel": channelError,
		"code":    code,
		"message": message,
	}
}

func summaryImageEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"channel":      channelSummarize,
		"type":         "summary.image",
		"image_base64": cannedSummaryPNG,
	}
}

func prepromptedDoneEnvelope(selected string) map[string]interface{} {
	return map[string]interface{}{
		"channel": channelConversation,
		"type":    "preprompted.done",
		"output":  selected,
	}
}
