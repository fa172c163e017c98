// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package registry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rapidaai/sonju/pkg/commons"
)

// RedisMirror write-behinds session lifecycle events to Redis so a
// fleet of sonju instances can be introspected from one place (a
// `/readiness`-style dashboard, or an operator checking how many
// sessions are live across the fleet). It never participates in the
// authoritative in-memory Registry's invariants — every write is
// fire-and-forget with a short timeout, and a Redis outage never
// affects session handling.
type RedisMirror struct {
	client *redis.Client
	logger commons.Logger
	prefix string
}

// NewRedisMirror connects to addr (e.g. "localhost:6379"). The
// connection is not verified eagerly — a down Redis at startup must
// not block the broker from serving sessions.
func NewRedisMirror(addr string, logger commons.Logger) *RedisMirror {
	return &RedisMirror{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		logger: logger,
		prefix: "sonju:session:",
	}
}

// SessionCreated records a session as live, with a generous expiry as
// a backstop against a missed SessionRemoved (e.g. process crash).
func (m *RedisMirror) SessionCreated(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.client.Set(ctx, m.prefix+id, "live", time.Hour).Err(); err != nil {
		m.logger.Warnw("redis mirror: failed to record session created", "session_id", id, "err", err)
	}
}

// SessionRemoved deletes the session's mirror key.
func (m *RedisMirror) SessionRemoved(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.client.Del(ctx, m.prefix+id).Err(); err != nil {
		m.logger.Warnw("redis mirror: failed to record session removed", "session_id", id, "err", err)
	}
}

// Close releases the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
