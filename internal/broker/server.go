// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package broker accepts client WebSockets on a single path, opens one
// Upstream Session per client, routes inbound frames, fans out upstream
// events as channel-tagged envelopes, and heartbeats every connection,
// per spec.md §4.6.
package broker

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rapidaai/sonju/internal/config"
	"github.com/rapidaai/sonju/internal/registry"
	"github.com/rapidaai/sonju/internal/retrieval"
	"github.com/rapidaai/sonju/internal/session"
	"github.com/rapidaai/sonju/internal/tools"
	"github.com/rapidaai/sonju/internal/upstream"
	"github.com/rapidaai/sonju/pkg/commons"
)

// sessionContext and audioContext are the fixed instruction fragments
// every Upstream Session opens with, per spec.md §4.6 step 2.
const (
	sessionContext = "복지 상담"
	audioContext   = "웹 테스트"
)

const heartbeatInterval = 30 * time.Second

// upstreamSession is the subset of *upstream.Session the Broker drives.
// Narrowing to an interface here (rather than depending on the concrete
// type) lets the broker's frame-routing logic be tested without a real
// upstream socket.
type upstreamSession interface {
	AppendAudio(base64Chunk string) error
	ClearAudio() error
	CommitAudio(modalities []upstream.Modality) error
	SendText(text string, modalities []upstream.Modality) error
	Events() <-chan upstream.Event
	Close() error
}

// clientSession bundles everything the Broker needs for one accepted
// connection for the lifetime of that connection.
type clientSession struct {
	id       string
	conn     *ClientConn
	upstream upstreamSession
	domain   *session.Session
}

// Broker owns the gin engine, the upstream dial configuration, the
// Session Registry, and the set of live client connections used for
// heartbeating, per spec.md §3's ClientConn entity.
type Broker struct {
	engine      *gin.Engine
	cfg         *config.AppConfig
	logger      commons.Logger
	registry    *registry.Registry
	retriever   retrieval.Client
	upstreamCfg upstream.Config
	upgrader    websocket.Upgrader

	connsMu sync.RWMutex
	conns   map[string]*clientSession
}

// New builds a Broker with its gin routes registered and its heartbeat
// timer started.
func New(cfg *config.AppConfig, reg *registry.Registry, retriever retrieval.Client, logger commons.Logger) *Broker {
	engine := gin.New()
	engine.Use(gin.Recovery())

	b := &Broker{
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		retriever: retriever,
		upstreamCfg: upstream.Config{
			Host:   cfg.RealtimeHost,
			Model:  cfg.RealtimeModel,
			APIKey: cfg.OpenAIAPIKey,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*clientSession),
	}

	engine.GET("/", b.handleConnect)
	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/readiness", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ready", "sessions": reg.Len()}) })

	go b.runHeartbeat()

	return b
}

// Engine exposes the underlying gin engine for cmd/sonju-gateway to
// bind to an *http.Server.
func (b *Broker) Engine() *gin.Engine {
	return b.engine
}

func (b *Broker) handleConnect(c *gin.Context) {
	ws, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warnw("broker: websocket upgrade failed", "err", err)
		return
	}

	sessionID := newSessionID()
	// traceID is a per-connection correlation id for log lines only; it
	// is never part of the wire protocol (session ids use the sonj_
	// format above).
	traceID := uuid.NewString()
	logger := b.logger.With("session_id", sessionID, "trace_id", traceID)
	conn := newClientConn(ws)

	dom := session.New(sessionID)
	executor := tools.New(dom, b.retriever, logger)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	up, err := upstream.Open(ctx, b.upstreamCfg, sessionID, sessionContext, audioContext, dom, executor, logger)
	if err != nil {
		_ = conn.writeJSON(errorEnvelope(503, "upstream unavailable"))
		conn.close()
		return
	}

	if err := b.registry.Insert(dom); err != nil {
		logger.Warnw("broker: failed to register session", "err", err)
		_ = up.Close()
		conn.close()
		return
	}

	sess := &clientSession{id: sessionID, conn: conn, upstream: up, domain: dom}
	b.trackConn(sess)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.fanOut(sess)
	}()

	b.readClientLoop(sess)

	// The client socket is gone, but fanOut blocks on range Events()
	// until the upstream session's read loop closes that channel, which
	// only happens once the upstream socket itself is closed. Close it
	// here, before waiting on done, so a client-initiated disconnect
	// with a healthy upstream can't leave fanOut (and the upstream
	// socket, its keepalive goroutine, and its read loop) running
	// forever. teardown's own Close call is then a no-op.
	_ = sess.upstream.Close()

	<-done
	b.teardown(sess)
}

// readClientLoop is the session's single client-socket reader; it
// blocks until the socket errors or closes.
func (b *Broker) readClientLoop(sess *clientSession) {
	for {
		messageType, data, err := sess.conn.ws.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			b.handleBinaryFrame(sess, data)
		case websocket.TextMessage:
			b.handleTextFrame(sess, data)
		}
	}
}

// teardown unsubscribes the session's forwarders (implicit: fanOut has
// already returned), closes the upstream socket, and removes the
// session from the registry, per spec.md §4.6 step 8.
func (b *Broker) teardown(sess *clientSession) {
	b.untrackConn(sess.id)
	_ = sess.upstream.Close()
	b.registry.Remove(sess.id)
	sess.conn.close()
}

func (b *Broker) trackConn(sess *clientSession) {
	b.connsMu.Lock()
	b.conns[sess.id] = sess
	b.connsMu.Unlock()
}

func (b *Broker) untrackConn(sessionID string) {
	b.connsMu.Lock()
	delete(b.conns, sessionID)
	b.connsMu.Unlock()
}

var idRand = rand.New(rand.NewSource(time.Now().UnixNano()))
var idRandMu sync.Mutex

// newSessionID mints a session id of the form sonj_<epoch_ms>_<6-char
// base36>, per spec.md §4.6 step 1.
func newSessionID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 6)

	idRandMu.Lock()
	for i := range suffix {
		suffix[i] = alphabet[idRand.Intn(len(alphabet))]
	}
	idRandMu.Unlock()

	return fmt.Sprintf("sonj_%d_%s", time.Now().UnixMilli(), string(suffix))
}
