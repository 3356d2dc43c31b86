package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	closeWriteTimeout = time.Second
	// writeTimeout bounds a single frame write to a peer that stopped reading.
	writeTimeout = 10 * time.Second
)

// WebSocketDialer connects to <base>/ai/realtime/ws/<session_id>. Audio
// travels as input_audio_buffer.append and response.audio.delta events.
type WebSocketDialer struct {
	logger shared.LoggerAdapter
	base   *url.URL
	dialer *websocket.Dialer
}

func NewWebSocketDialer(logger shared.LoggerAdapter, baseURL string) (*WebSocketDialer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing websocket base URL: %w", err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported websocket scheme %q", base.Scheme)
	}
	return &WebSocketDialer{
		logger: logger,
		base:   base,
		dialer: &websocket.Dialer{HandshakeTimeout: shared.DefaultHandshakeTimeout},
	}, nil
}

// URL is the socket address for a backend session id.
func (d *WebSocketDialer) URL(sessionID string) string {
	return d.base.JoinPath("ai", "realtime", "ws", sessionID).String()
}

func (d *WebSocketDialer) Dial(ctx context.Context, cred realtime.Credential) (realtime.Channel, error) {
	if cred.SessionID == "" {
		return nil, fmt.Errorf("%w: websocket transport requires a session id", shared.ErrCredential)
	}
	wsURL := d.URL(cred.SessionID)
	headers := make(http.Header)
	if cred.EphemeralKey != "" {
		headers.Set("Authorization", "Bearer "+cred.EphemeralKey)
	}

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				err = fmt.Errorf("%w: %w", shared.ErrUnauthorized, err)
			case http.StatusForbidden:
				err = fmt.Errorf("%w: %w", shared.ErrForbidden, err)
			}
			return nil, fmt.Errorf("%w: websocket dial failed (status %d): %w", shared.ErrHandshake, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: websocket dial: %w", shared.ErrHandshake, err)
	}

	ch := &wsChannel{
		logger:  d.logger.With(zap.String("session_id", cred.SessionID)),
		conn:    conn,
		inbound: make(chan realtime.Frame, 64),
		done:    make(chan struct{}),
	}
	go ch.readLoop()
	d.logger.Debug("websocket channel open", zap.String("url", wsURL))
	return ch, nil
}

type wsChannel struct {
	logger  shared.LoggerAdapter
	conn    *websocket.Conn
	inbound chan realtime.Frame
	done    chan struct{}

	closed    atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsChannel) Inbound() <-chan realtime.Frame {
	return c.inbound
}

func (c *wsChannel) Send(event *realtime.ClientEvent) error {
	if c.closed.Load() {
		return shared.ErrChannelClosed
	}
	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", event.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err == nil {
		err = c.conn.WriteMessage(websocket.TextMessage, data)
	}
	if err != nil {
		if c.closed.Load() {
			return shared.ErrChannelClosed
		}
		return fmt.Errorf("writing %s: %w", event.Type, err)
	}
	return nil
}

func (c *wsChannel) SendAudio(samples []float32) error {
	return c.Send(realtime.NewInputAudioBufferAppendEvent(samples))
}

// Close never waits behind an in-flight Send. The close frame is only sent
// when no write is pending; closing the socket fails a stalled write.
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if c.writeMu.TryLock() {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeWriteTimeout),
			)
			c.writeMu.Unlock()
		} else {
			c.logger.Debug("write in flight, closing without close frame")
		}
		_ = c.conn.Close()
	})
	return nil
}

func (c *wsChannel) readLoop() {
	defer close(c.inbound)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: closed by remote: %w", shared.ErrChannelClosed, err)
			}
			c.emit(realtime.Frame{Err: err})
			return
		}
		switch messageType {
		case websocket.TextMessage:
			if !c.emit(realtime.Frame{Data: data}) {
				return
			}
		default:
			c.logger.Debug("ignoring non-text frame", zap.Int("message_type", messageType), zap.Int("bytes", len(data)))
		}
	}
}

// emit blocks until the frame is consumed or the channel is closed, so no
// inbound frame is dropped or reordered.
func (c *wsChannel) emit(frame realtime.Frame) bool {
	select {
	case c.inbound <- frame:
		return true
	case <-c.done:
		return false
	}
}
