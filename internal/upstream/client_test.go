// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/sonju/internal/brokererr"
	"github.com/rapidaai/sonju/internal/session"
	"github.com/rapidaai/sonju/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	lastCallID, lastName, lastArgs string
	output                         interface{}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _, callID, name, rawArgs string) interface{} {
	f.lastCallID, f.lastName, f.lastArgs = callID, name, rawArgs
	return f.output
}

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewZapLogger("error")
	require.NoError(t, err)
	return l
}

// echoUpstreamServer accepts one client, replies session.created
// immediately, and otherwise records/echoes frames for inspection.
func echoUpstreamServer(t *testing.T, onFrame func(conn *websocket.Conn, frame map[string]interface{})) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]string{"type": eventSessionCreated})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if onFrame != nil {
				onFrame(conn, frame)
			}
		}
	}))
}

func dialConfig(server *httptest.Server) Config {
	host := strings.TrimPrefix(strings.TrimPrefix(server.URL, "http://"), "https://")
	return Config{Host: host, Model: "gpt-4o-realtime-preview", APIKey: "test-key"}
}

func TestOpen_SubmitsInitialSessionUpdate(t *testing.T) {
	var received []map[string]interface{}
	server := echoUpstreamServer(t, func(_ *websocket.Conn, frame map[string]interface{}) {
		received = append(received, frame)
	})
	defer server.Close()

	dom := session.New("sonj_test")
	s, err := Open(context.Background(), dialConfig(server), "sonj_test", "복지 상담", "웹 테스트", dom, &fakeDispatcher{}, newTestLogger(t))
	require.NoError(t, err)
	defer s.Close()

	// give the read loop a moment to observe session.created.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stateReady, s.getState())
}

func TestSendText_WritesItemThenResponseCreate(t *testing.T) {
	frames := make(chan map[string]interface{}, 8)
	server := echoUpstreamServer(t, func(_ *websocket.Conn, frame map[string]interface{}) {
		frames <- frame
	})
	defer server.Close()

	dom := session.New("sonj_test")
	s, err := Open(context.Background(), dialConfig(server), "sonj_test", "ctx", "audio", dom, &fakeDispatcher{}, newTestLogger(t))
	require.NoError(t, err)
	defer s.Close()

	<-frames // initial session.update

	require.NoError(t, s.SendText("hello", []Modality{ModalityText}))

	itemFrame := <-frames
	assert.Equal(t, frameConversationItemCreate, itemFrame["type"])

	respFrame := <-frames
	assert.Equal(t, frameResponseCreate, respFrame["type"])
}

func TestMaybeUpdateInstructions_SkipsWhenUnchanged(t *testing.T) {
	frames := make(chan map[string]interface{}, 8)
	server := echoUpstreamServer(t, func(_ *websocket.Conn, frame map[string]interface{}) {
		frames <- frame
	})
	defer server.Close()

	dom := session.New("sonj_test")
	s, err := Open(context.Background(), dialConfig(server), "sonj_test", "초기 지침", "오디오", dom, &fakeDispatcher{}, newTestLogger(t))
	require.NoError(t, err)
	defer s.Close()

	<-frames // initial session.update

	require.NoError(t, s.MaybeUpdateInstructions("초기 지침\n오디오"))
	select {
	case f := <-frames:
		t.Fatalf("expected no frame sent for unchanged instructions, got %v", f)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, s.MaybeUpdateInstructions("변경된 지침"))
	select {
	case f := <-frames:
		assert.Equal(t, frameSessionUpdate, f["type"])
	case <-time.After(1 * time.Second):
		t.Fatal("expected a session.update frame for changed instructions")
	}
}

func TestClose_IsIdempotentAndRejectsFurtherSends(t *testing.T) {
	server := echoUpstreamServer(t, nil)
	defer server.Close()

	dom := session.New("sonj_test")
	s, err := Open(context.Background(), dialConfig(server), "sonj_test", "ctx", "audio", dom, &fakeDispatcher{}, newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.SendText("too late", []Modality{ModalityText})
	assert.ErrorIs(t, err, brokererr.ErrSessionClosed)
}

func TestDispatchFinishedToolCall_ReassemblesArgsAndSendsOutput(t *testing.T) {
	frames := make(chan map[string]interface{}, 8)
	server := echoUpstreamServer(t, func(_ *websocket.Conn, frame map[string]interface{}) {
		frames <- frame
	})
	defer server.Close()

	dispatcher := &fakeDispatcher{output: map[string]string{"context": "[출처: doc-1]\n내용"}}
	dom := session.New("sonj_test")
	s, err := Open(context.Background(), dialConfig(server), "sonj_test", "ctx", "audio", dom, dispatcher, newTestLogger(t))
	require.NoError(t, err)
	defer s.Close()

	<-frames // initial session.update

	dom.BeginToolCall("call_1", "rag_search", `{"query":`)
	dom.BeginToolCall("call_1", "rag_search", `"노인 복지"}`)
	s.dispatchFinishedToolCall("call_1")

	assert.Equal(t, "call_1", dispatcher.lastCallID)
	assert.Equal(t, "rag_search", dispatcher.lastName)
	assert.Equal(t, `{"query":"노인 복지"}`, dispatcher.lastArgs)

	outFrame := <-frames
	assert.Equal(t, frameToolOutput, outFrame["type"])
	assert.Equal(t, "call_1", outFrame["tool_call_id"])
}
