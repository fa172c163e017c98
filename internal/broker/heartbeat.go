// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package broker

import "time"

// runHeartbeat pings every live client connection every
// heartbeatInterval and terminates any that did not pong since the
// previous tick, per spec.md §4.6 step 7 and §5's cancellation table.
// It must never block on one slow client, so it snapshots the
// connection set before doing any I/O.
func (b *Broker) runHeartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		b.pingAll()
	}
}

func (b *Broker) pingAll() {
	b.connsMu.RLock()
	snapshot := make([]*clientSession, 0, len(b.conns))
	for _, sess := range b.conns {
		snapshot = append(snapshot, sess)
	}
	b.connsMu.RUnlock()

	threshold := time.Now().Add(-heartbeatInterval)
	for _, sess := range snapshot {
		if !sess.conn.pongedSince(threshold) {
			b.logger.Warnw("broker: client missed heartbeat, closing", "session_id", sess.id)
			sess.conn.close()
			continue
		}
		if err := sess.conn.ping(); err != nil {
			b.logger.Warnw("broker: heartbeat ping failed, closing", "session_id", sess.id, "err", err)
			sess.conn.close()
		}
	}
}
