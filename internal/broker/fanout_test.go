// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rapidaai/sonju/internal/upstream"
	"github.com/rapidaai/sonju/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	logger, err := commons.NewZapLogger("error")
	require.NoError(t, err)
	return &Broker{logger: logger}
}

func TestFanOut_TranslatesTextDeltaAndDone(t *testing.T) {
	b := newTestBroker(t)
	serverConn, client, cleanup := clientConnPair(t)
	defer cleanup()

	fu := newFakeUpstream()
	sess := &clientSession{id: "sonj_test", conn: serverConn, upstream: fu}

	go b.fanOut(sess)

	fu.events <- upstream.Event{SessionID: "sonj_test", Type: upstream.EventTextDelta, Payload: upstream.DeltaPayload{OutputIndex: 0, Delta: "안"}}
	fu.events <- upstream.Event{SessionID: "sonj_test", Type: upstream.EventTextDone, Payload: upstream.DeltaPayload{OutputIndex: 0}}
	fu.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, first, err := client.ReadMessage()
	require.NoError(t, err)
	var env1 map[string]interface{}
	require.NoError(t, json.Unmarshal(first, &env1))
	assert.Equal(t, "response.text.delta", env1["type"])
	assert.Equal(t, "안", env1["delta"])

	_, second, err := client.ReadMessage()
	require.NoError(t, err)
	var env2 map[string]interface{}
	require.NoError(t, json.Unmarshal(second, &env2))
	assert.Equal(t, "response.text.done", env2["type"])
	_, hasDelta := env2["delta"]
	assert.False(t, hasDelta)
}

func TestFanOut_ErrorEventClosesClientAfterForwarding(t *testing.T) {
	b := newTestBroker(t)
	serverConn, client, cleanup := clientConnPair(t)
	defer cleanup()

	fu := newFakeUpstream()
	sess := &clientSession{id: "sonj_test", conn: serverConn, upstream: fu}

	done := make(chan struct{})
	go func() {
		b.fanOut(sess)
		close(done)
	}()

	fu.events <- upstream.Event{SessionID: "sonj_test", Type: upstream.EventError, Payload: upstream.ErrorPayload{Code: 1011, Message: "boom"}}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "openai:error", env["channel"])
	assert.Equal(t, "boom", env["message"])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected fanOut to return after a terminal event")
	}
}
