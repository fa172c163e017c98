// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package broker

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConn wraps one accepted client WebSocket. All writes funnel
// through writeMu so the client socket has exactly one writer, matching
// the same discipline the Upstream Session applies to its own socket
// (spec.md §5 "single writer per socket").
type ClientConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	pongMu   sync.Mutex
	lastPong time.Time

	closeOnce sync.Once
}

func newClientConn(ws *websocket.Conn) *ClientConn {
	c := &ClientConn{ws: ws, lastPong: time.Now()}
	ws.SetPongHandler(func(string) error {
		c.touchPong()
		return nil
	})
	return c
}

func (c *ClientConn) touchPong() {
	c.pongMu.Lock()
	c.lastPong = time.Now()
	c.pongMu.Unlock()
}

func (c *ClientConn) pongedSince(threshold time.Time) bool {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	return c.lastPong.After(threshold) || c.lastPong.Equal(threshold)
}

func (c *ClientConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *ClientConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// close is safe to call more than once and from more than one goroutine
// (the fan-out goroutine, the heartbeat, and the read loop may all
// observe a terminal condition independently).
func (c *ClientConn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
