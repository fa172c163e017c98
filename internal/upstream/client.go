// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/sonju/internal/brokererr"
	"github.com/rapidaai/sonju/internal/session"
	"github.com/rapidaai/sonju/pkg/commons"
	"golang.org/x/sync/errgroup"
)

// HandshakeTimeout bounds how long the initial WebSocket dial may take,
// per spec.md §4.3. Open does not wait for session.created; the read
// loop moves the state to ready when that event arrives.
const HandshakeTimeout = 15 * time.Second

// KeepaliveInterval is the ping cadence once the upstream socket is open.
const KeepaliveInterval = 20 * time.Second

// Config identifies the upstream endpoint and credentials used to dial it.
type Config struct {
	Host  string // e.g. "api.openai.com"
	Model string
	APIKey string
}

// Session owns one outbound WebSocket to the model-inference service
// and exposes the operations and typed event feed described in
// spec.md §4.3. There is exactly one writer of conn (this Session's
// caller-facing methods, serialized by writeMu) and exactly one reader
// (the internal readLoop goroutine), per spec.md §9 "single writer per
// socket".
type Session struct {
	id     string
	logger commons.Logger
	cfg    Config

	conn    *websocket.Conn
	writeMu sync.Mutex

	stateMu sync.Mutex
	state   connState

	instructionHash string
	instructionMu   sync.Mutex

	events chan Event

	keepaliveCancel context.CancelFunc

	// awaiters hold pending send_text_await calls keyed by nothing
	// (only one in flight is supported, matching spec.md §4.3's
	// synchronous send_text_await contract) — protected by awaitMu.
	awaitMu  sync.Mutex
	awaiting *textAwait

	toolDispatch ToolDispatcher

	// domain is the shared per-session data model (tool-call coalescing
	// buffers, rate limiting, RAG cache) that the Tool Executor and the
	// Broker also read and mutate, per spec.md §3. The Upstream Session
	// is the only writer of PendingToolCalls, since it alone owns the
	// read loop that receives function_call.arguments.* events.
	domain *session.Session
}

// ToolDispatcher is implemented by the Tool Executor; the Upstream
// Session calls it once per coalesced function_call.arguments.done
// event (after reassembling the full argument string itself via
// domain.BeginToolCall/FinishToolCall) and sends the resulting
// tool.output frame itself, so that "tool.output is emitted in the
// same task that consumed the corresponding
// function_call.arguments.done" (spec.md §5) holds by construction.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, sessionID, callID, name, rawArgs string) (toolOutput interface{})
}

type textAwait struct {
	text chan string
	err  chan error
	acc  string
}

// Open dials the upstream realtime endpoint, submits the initial
// session.update, and starts the read loop and keepalive timer, per
// spec.md §4.3's Construction steps. sessionContext and audioContext
// are concatenated into the submitted instructions.
func Open(ctx context.Context, cfg Config, sessionID, sessionContext, audioContext string, domain *session.Session, dispatcher ToolDispatcher, logger commons.Logger) (*Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	u := url.URL{
		Scheme:   "wss",
		Host:     cfg.Host,
		Path:     "/realtime",
		RawQuery: "model=" + url.QueryEscape(cfg.Model),
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: HandshakeTimeout}

	s := &Session{
		id:           sessionID,
		logger:       logger.With("session_id", sessionID),
		cfg:          cfg,
		state:        stateConnecting,
		events:       make(chan Event, eventChannelSize),
		toolDispatch: dispatcher,
		domain:       domain,
	}

	var g errgroup.Group
	var conn *websocket.Conn
	g.Go(func() error {
		c, _, err := dialer.DialContext(dialCtx, u.String(), headers)
		if err != nil {
			return fmt.Errorf("%w: %v", brokererr.ErrUpstreamUnavailable, err)
		}
		conn = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	conn.SetReadLimit(10 * 1024 * 1024)
	s.conn = conn

	instructions := sessionContext + "\n" + audioContext
	if err := s.send(sessionUpdateFrame(newSessionConfig(instructions))); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to submit initial session.update: %v", brokererr.ErrUpstreamUnavailable, err)
	}
	s.recordInstructionHash(instructions)

	go s.readLoop()
	s.startKeepalive()

	return s, nil
}

func (s *Session) recordInstructionHash(instructions string) {
	s.instructionMu.Lock()
	s.instructionHash = hashInstructions(instructions)
	s.instructionMu.Unlock()
}

func hashInstructions(instructions string) string {
	sum := sha256.Sum256([]byte(instructions))
	return hex.EncodeToString(sum[:])
}

func (s *Session) startKeepalive() {
	ctx, cancel := context.WithCancel(context.Background())
	s.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.writeMu.Lock()
				err := s.conn.WriteMessage(websocket.PingMessage, nil)
				s.writeMu.Unlock()
				if err != nil {
					s.logger.Warnw("upstream: keepalive ping failed", "err", err)
					return
				}
			}
		}
	}()
}

// send marshals and writes frame under writeMu, failing fast with
// ErrSessionClosed if the socket is no longer open, per spec.md §4.3's
// failure semantics.
func (s *Session) send(frame outboundFrame) error {
	if s.isClosed() {
		return brokererr.ErrSessionClosed
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", frame.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return brokererr.ErrSessionClosed
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", frame.Type, err)
	}
	return nil
}

// SendText sends a user text turn: conversation.item.create followed
// by response.create with the requested modalities, per spec.md §4.3.
func (s *Session) SendText(text string, modalities []Modality) error {
	if err := s.send(userTextItemFrame(text)); err != nil {
		return err
	}
	return s.send(responseCreateFrame(modalities))
}

// AppendAudio sends one input_audio_buffer.append frame.
func (s *Session) AppendAudio(base64Chunk string) error {
	return s.send(audioAppendFrame(base64Chunk))
}

// CommitAudio sends input_audio_buffer.commit followed by
// response.create, preserving "commit happens-after all prior appends"
// (spec.md §5) because both frames are written under the same send
// path that serialized every prior append.
func (s *Session) CommitAudio(modalities []Modality) error {
	if err := s.send(audioCommitFrame()); err != nil {
		return err
	}
	return s.send(responseCreateFrame(modalities))
}

// ClearAudio sends input_audio_buffer.clear.
func (s *Session) ClearAudio() error {
	return s.send(audioClearFrame())
}

// MaybeUpdateInstructions emits session.update{instructions} only if
// newInstructions hashes differently from the last accepted
// submission, per spec.md §4.3 and the testable property in spec.md §8.
func (s *Session) MaybeUpdateInstructions(newInstructions string) error {
	newHash := hashInstructions(newInstructions)

	s.instructionMu.Lock()
	unchanged := s.instructionHash == newHash
	s.instructionMu.Unlock()
	if unchanged {
		return nil
	}

	if err := s.send(instructionsOnlyUpdateFrame(newInstructions)); err != nil {
		return err
	}
	s.recordInstructionHash(newInstructions)
	return nil
}

// SendToolOutput answers a dispatched tool call with a tool.output
// frame, per spec.md §4.4.
func (s *Session) SendToolOutput(toolCallID string, output interface{}) error {
	frame, err := toolOutputFrame(toolCallID, output)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal tool output: %v", brokererr.ErrToolFailure, err)
	}
	return s.send(frame)
}

// SendTextAwait sends a text-only turn and blocks until a response.done
// arrives, returning the concatenated response.text.delta payloads.
// Only one SendTextAwait may be in flight at a time, per spec.md §4.3.
func (s *Session) SendTextAwait(ctx context.Context, text string) (string, error) {
	s.awaitMu.Lock()
	if s.awaiting != nil {
		s.awaitMu.Unlock()
		return "", fmt.Errorf("a send_text_await call is already in flight for session %s", s.id)
	}
	aw := &textAwait{text: make(chan string, 1), err: make(chan error, 1)}
	s.awaiting = aw
	s.awaitMu.Unlock()

	defer func() {
		s.awaitMu.Lock()
		s.awaiting = nil
		s.awaitMu.Unlock()
	}()

	if err := s.SendText(text, []Modality{ModalityText}); err != nil {
		return "", err
	}

	select {
	case full := <-aw.text:
		return full, nil
	case err := <-aw.err:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close closes the socket and cancels the keepalive timer; further
// operations fail with ErrSessionClosed. Safe to call more than once.
// It does not close the event feed itself — closing the socket causes
// readLoop's blocked ReadMessage call to return, and readLoop closes
// s.events once it has published its final event, so Close can return
// before the feed is actually drained and closed.
func (s *Session) Close() error {
	if s.isClosed() {
		return nil
	}
	s.setState(stateClosed)

	if s.keepaliveCancel != nil {
		s.keepaliveCancel()
	}

	s.writeMu.Lock()
	var err error
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	}
	s.writeMu.Unlock()

	return err
}
