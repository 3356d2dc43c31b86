package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/mock"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRealtimeTestServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ai/realtime/ws/") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") == "Bearer revoked" {
			http.Error(w, "revoked", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketDialerURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		expected string
	}{
		{name: "wss", base: "wss://shop.example.com", expected: "wss://shop.example.com/ai/realtime/ws/sess_1"},
		{name: "https becomes wss", base: "https://shop.example.com/", expected: "wss://shop.example.com/ai/realtime/ws/sess_1"},
		{name: "http becomes ws", base: "http://127.0.0.1:5006", expected: "ws://127.0.0.1:5006/ai/realtime/ws/sess_1"},
		{name: "Path prefix kept", base: "wss://shop.example.com/api", expected: "wss://shop.example.com/api/ai/realtime/ws/sess_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewWebSocketDialer(shared.NewNopLogger(), tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.URL("sess_1"))
		})
	}

	_, err := NewWebSocketDialer(shared.NewNopLogger(), "ftp://x")
	assert.Error(t, err)
}

func TestWebSocketChannelRoundTrip(t *testing.T) {
	received := make(chan string, 8)
	requests := make(chan *http.Request, 1)
	wsURL := newRealtimeTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		requests <- r
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{}}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	d, err := NewWebSocketDialer(shared.NewNopLogger(), wsURL)
	require.NoError(t, err)
	ch, err := d.Dial(context.Background(), realtime.Credential{SessionID: "sess_1", EphemeralKey: "ek_1"})
	require.NoError(t, err)
	defer ch.Close()

	select {
	case frame := <-ch.Inbound():
		require.NoError(t, frame.Err)
		assert.JSONEq(t, `{"type":"session.created","session":{}}`, string(frame.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound frame")
	}

	require.NoError(t, ch.SendAudio([]float32{-1}))
	select {
	case data := <-received:
		var got map[string]any
		require.NoError(t, sonic.UnmarshalString(data, &got))
		assert.Equal(t, "input_audio_buffer.append", got["type"])
		assert.Equal(t, "AIA=", got["audio"])
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}
	r := <-requests
	assert.Equal(t, "/ai/realtime/ws/sess_1", r.URL.Path)
	assert.Equal(t, "Bearer ek_1", r.Header.Get("Authorization"))

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.SendAudio([]float32{0}), shared.ErrChannelClosed)
}

func TestWebSocketChannelRemoteClose(t *testing.T) {
	wsURL := newRealtimeTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	d, err := NewWebSocketDialer(shared.NewNopLogger(), wsURL)
	require.NoError(t, err)
	ch, err := d.Dial(context.Background(), realtime.Credential{SessionID: "sess_1"})
	require.NoError(t, err)
	defer ch.Close()

	select {
	case frame := <-ch.Inbound():
		assert.ErrorIs(t, frame.Err, shared.ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("remote close not reported")
	}
}

func TestWebSocketCloseDuringStalledWrite(t *testing.T) {
	release := make(chan struct{})
	wsURL := newRealtimeTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	d, err := NewWebSocketDialer(shared.NewNopLogger(), wsURL)
	require.NoError(t, err)
	ch, err := d.Dial(context.Background(), realtime.Credential{SessionID: "sess_1"})
	require.NoError(t, err)

	frame := make([]float32, realtime.SampleRate)
	sendErr := make(chan error, 1)
	go func() {
		for {
			if err := ch.SendAudio(frame); err != nil {
				sendErr <- err
				return
			}
		}
	}()
	time.Sleep(500 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = ch.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked behind a stalled write")
	}
	select {
	case err := <-sendErr:
		assert.ErrorIs(t, err, shared.ErrChannelClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("stalled write was not released by Close")
	}
}

func TestWebSocketDialFailures(t *testing.T) {
	wsURL := newRealtimeTestServer(t, func(r *http.Request, conn *websocket.Conn) {})
	d, err := NewWebSocketDialer(shared.NewNopLogger(), wsURL)
	require.NoError(t, err)

	_, err = d.Dial(context.Background(), realtime.Credential{})
	assert.ErrorIs(t, err, shared.ErrCredential)

	_, err = d.Dial(context.Background(), realtime.Credential{SessionID: "sess_1", EphemeralKey: "revoked"})
	assert.ErrorIs(t, err, shared.ErrHandshake)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Dial(ctx, realtime.Credential{SessionID: "sess_1"})
	assert.ErrorIs(t, err, shared.ErrHandshake)
}

// End to end over a real socket: configuration, then history, then audio.
func TestControllerOverWebSocket(t *testing.T) {
	var (
		mu    sync.Mutex
		types []string
	)
	wsURL := newRealtimeTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var event map[string]any
			if err := sonic.Unmarshal(data, &event); err != nil {
				continue
			}
			mu.Lock()
			types = append(types, event["type"].(string))
			n := len(types)
			mu.Unlock()
			if n == 4 {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":{"message":"boom"}}`))
			}
		}
	})

	d, err := NewWebSocketDialer(shared.NewNopLogger(), wsURL)
	require.NoError(t, err)
	mic := mock.NewMicrophone()
	n, err := realtime.NewNegotiator(
		shared.NewNopLogger(),
		realtime.CredentialSourceFunc(func(ctx context.Context) (realtime.Credential, error) {
			return realtime.Credential{SessionID: "sess_e2e"}, nil
		}),
		d,
		&mock.MicrophoneSource{OpenFn: func(ctx context.Context) (realtime.Microphone, error) {
			return mic, nil
		}},
	)
	require.NoError(t, err)
	ctrl, err := realtime.NewController(shared.NewNopLogger(), n,
		&mock.Player{PlayFn: func(_ realtime.AudioChunk, done func()) { done() }, StopFn: func() {}},
		realtime.ControllerOptions{Session: realtime.DefaultSessionConfig(), Transport: shared.TransportWebSocket},
	)
	require.NoError(t, err)
	defer ctrl.Stop()

	ctrl.Start(context.Background(), []realtime.ConversationTurn{
		{Role: realtime.RoleUser, Text: "hi"},
		{Role: realtime.RoleAssistant, Text: "   "},
		{Role: realtime.RoleAssistant, Text: "yo"},
	})
	require.Eventually(t, func() bool { return ctrl.State() == realtime.StateActive }, 2*time.Second, 5*time.Millisecond)
	require.True(t, mic.Feed([]float32{0.25, -0.25}))

	require.Eventually(t, func() bool { return ctrl.State() == realtime.StateFailed }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, ctrl.Err(), shared.ErrProtocol)
	assert.True(t, mic.Closed())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"session.update",
		"conversation.item.create",
		"conversation.item.create",
		"input_audio_buffer.append",
	}, types)
}
