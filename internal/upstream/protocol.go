// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package upstream owns one outbound WebSocket to the model-inference
// service, implements its realtime wire protocol, and exposes a typed
// event feed to the Broker, per spec.md §4.3.
package upstream

import (
	"encoding/json"
	"strconv"
)

// Outbound frame types, per spec.md §6.
const (
	frameSessionUpdate         = "session.update"
	frameConversationItemCreate = "conversation.item.create"
	frameResponseCreate        = "response.create"
	frameInputAudioAppend      = "input_audio_buffer.append"
	frameInputAudioCommit      = "input_audio_buffer.commit"
	frameInputAudioClear       = "input_audio_buffer.clear"
	frameToolOutput            = "tool.output"
)

// Inbound event types, per spec.md §4.3 and §6.
const (
	eventSessionCreated             = "session.created"
	eventSessionUpdated             = "session.updated"
	eventResponseTextDelta          = "response.text.delta"
	eventResponseTextDone           = "response.text.done"
	eventResponseAudioDelta         = "response.audio.delta"
	eventResponseAudioDone          = "response.audio.done"
	eventResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	eventResponseAudioTranscriptDone  = "response.audio_transcript.done"
	eventFunctionCallArgsDelta      = "response.function_call.arguments.delta"
	eventFunctionCallArgsDone       = "response.function_call.arguments.done"
	eventResponseDone               = "response.done"
	eventError                      = "error"
	eventResponseError              = "response.error"
)

// Modality is a response output modality requested of the upstream.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// toolParameters is the JSON-schema parameters object for the single
// rag_search tool registered at session-open, per spec.md §4.3.
type toolParameters struct {
	Type       string                    `json:"type"`
	Properties map[string]toolPropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type toolPropertySchema struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Minimum     *float64    `json:"minimum,omitempty"`
	Maximum     *float64    `json:"maximum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

type sessionTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  toolParameters `json:"parameters"`
}

func ragSearchTool() sessionTool {
	f := func(v float64) *float64 { return &v }
	return sessionTool{
		Type:        "function",
		Name:        "rag_search",
		Description: "Search the welfare-counseling knowledge base for relevant context.",
		Parameters: toolParameters{
			Type: "object",
			Properties: map[string]toolPropertySchema{
				"query":     {Type: "string", Description: "search query"},
				"mode":      {Type: "string", Enum: []string{"provisional", "final"}, Default: "final"},
				"topK":      {Type: "integer", Minimum: f(1), Maximum: f(5), Default: 2},
				"threshold": {Type: "number", Minimum: f(0), Maximum: f(1), Default: 0.3},
			},
			Required: []string{"query"},
		},
	}
}

type sessionConfig struct {
	Modalities              []Modality    `json:"modalities"`
	InputAudioFormat        string        `json:"input_audio_format"`
	OutputAudioFormat       string        `json:"output_audio_format"`
	InputAudioTranscription inputTranscriptionConfig `json:"input_audio_transcription"`
	TurnDetection           interface{}   `json:"turn_detection"`
	Temperature             float64       `json:"temperature"`
	MaxResponseOutputTokens int           `json:"max_response_output_tokens"`
	Tools                   []sessionTool `json:"tools"`
	Instructions            string        `json:"instructions,omitempty"`
}

type inputTranscriptionConfig struct {
	Model string `json:"model"`
}

// newSessionConfig builds the initial session.update payload per
// spec.md §4.3 step 2: text+audio modalities, PCM16 in/out, an
// input-transcription model, turn_detection disabled (client-driven
// turns, per spec.md §9's resolved Open Question), temperature 0.7,
// 350-token cap, and the single rag_search tool.
func newSessionConfig(instructions string) sessionConfig {
	return sessionConfig{
		Modalities:        []Modality{ModalityText, ModalityAudio},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: inputTranscriptionConfig{
			Model: "whisper-1",
		},
		TurnDetection:           nil,
		Temperature:             0.7,
		MaxResponseOutputTokens: 350,
		Tools:                   []sessionTool{ragSearchTool()},
		Instructions:            instructions,
	}
}

type outboundFrame struct {
	Type    string      `json:"type"`
	Session interface{} `json:"session,omitempty"`
	Item    interface{} `json:"item,omitempty"`
	Response interface{} `json:"response,omitempty"`
	Audio   string      `json:"audio,omitempty"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
	Output     string   `json:"output,omitempty"`
}

type conversationItem struct {
	Type    string                `json:"type"`
	Role    string                `json:"role"`
	Content []conversationContent `json:"content"`
}

type conversationContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateOptions struct {
	Modalities []Modality `json:"modalities,omitempty"`
}

func sessionUpdateFrame(cfg sessionConfig) outboundFrame {
	return outboundFrame{Type: frameSessionUpdate, Session: cfg}
}

func instructionsOnlyUpdateFrame(instructions string) outboundFrame {
	return outboundFrame{Type: frameSessionUpdate, Session: map[string]string{"instructions": instructions}}
}

func userTextItemFrame(text string) outboundFrame {
	return outboundFrame{
		Type: frameConversationItemCreate,
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationContent{
				{Type: "input_text", Text: text},
			},
		},
	}
}

func responseCreateFrame(modalities []Modality) outboundFrame {
	return outboundFrame{Type: frameResponseCreate, Response: responseCreateOptions{Modalities: modalities}}
}

func audioAppendFrame(base64Chunk string) outboundFrame {
	return outboundFrame{Type: frameInputAudioAppend, Audio: base64Chunk}
}

func audioCommitFrame() outboundFrame {
	return outboundFrame{Type: frameInputAudioCommit}
}

func audioClearFrame() outboundFrame {
	return outboundFrame{Type: frameInputAudioClear}
}

func toolOutputFrame(toolCallID string, output interface{}) (outboundFrame, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return outboundFrame{}, err
	}
	return outboundFrame{Type: frameToolOutput, ToolCallID: toolCallID, Output: string(raw)}, nil
}

// inboundFrame is the envelope every inbound upstream message is first
// decoded into; Raw is re-parsed per event type.
type inboundFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

type inboundTextDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type inboundTextDone struct {
	OutputIndex int `json:"output_index"`
}

type inboundFunctionCallArgsDelta struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Delta  string `json:"delta"`
}

type inboundFunctionCallArgsDone struct {
	CallID string `json:"call_id"`
}

type inboundErrorPayload struct {
	Code    interface{} `json:"code"`
	Message string      `json:"message"`
}

// intCode coerces an upstream error's code field to an int regardless
// of whether it arrived as a JSON number or a numeric string; codes
// that aren't numeric (e.g. a symbolic error code) coerce to 0.
func intCode(v interface{}) int {
	switch c := v.(type) {
	case float64:
		return int(c)
	case int:
		return c
	case string:
		if n, err := strconv.Atoi(c); err == nil {
			return n
		}
	}
	return 0
}
