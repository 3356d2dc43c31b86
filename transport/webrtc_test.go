package transport

import (
	"context"
	"net"
	"testing"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newSDPTestClient(t *testing.T, handler fasthttp.RequestHandler) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { _ = ln.Close() })
	return &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
}

func TestPostOffer(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr []error
	}{
		{name: "Created", status: fasthttp.StatusCreated, body: "v=0 answer"},
		{name: "OK", status: fasthttp.StatusOK, body: "v=0 answer"},
		{name: "Unauthorized", status: fasthttp.StatusUnauthorized, wantErr: []error{shared.ErrHandshake, shared.ErrUnauthorized}},
		{name: "Server error", status: fasthttp.StatusBadGateway, body: "upstream", wantErr: []error{shared.ErrHandshake}},
		{name: "Empty answer", status: fasthttp.StatusCreated, wantErr: []error{shared.ErrHandshake}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newSDPTestClient(t, func(ctx *fasthttp.RequestCtx) {
				assert.Equal(t, "POST", string(ctx.Method()))
				assert.Equal(t, "gpt-realtime", string(ctx.QueryArgs().Peek("model")))
				assert.Equal(t, "Bearer ek_1", string(ctx.Request.Header.Peek("Authorization")))
				assert.Equal(t, "application/sdp", string(ctx.Request.Header.ContentType()))
				assert.Equal(t, "v=0 offer", string(ctx.PostBody()))
				ctx.SetStatusCode(tt.status)
				ctx.SetBodyString(tt.body)
			})

			answer, err := postOffer(context.Background(), client,
				"http://realtime.test/v1/realtime?model=gpt-realtime", "ek_1", "v=0 offer")
			if len(tt.wantErr) > 0 {
				for _, want := range tt.wantErr {
					assert.ErrorIs(t, err, want)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, answer)
		})
	}
}

func TestPostOfferRespectsContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	client := newSDPTestClient(t, func(ctx *fasthttp.RequestCtx) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := postOffer(ctx, client, "http://realtime.test/v1/realtime", "ek_1", "v=0 offer")
	assert.ErrorIs(t, err, shared.ErrHandshake)
}

func TestWebRTCDialerSDPURL(t *testing.T) {
	d, err := NewWebRTCDialer(shared.NewNopLogger(), "https://api.openai.com/v1/realtime", "gpt-realtime", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/realtime?model=gpt-realtime", d.SDPURL())
	assert.Equal(t, 20*time.Millisecond, d.frameDuration)
	assert.Equal(t, shared.DefaultHTTPTimeout, d.http.ReadTimeout, "SDP posts must not hang without a deadline")
	assert.Equal(t, shared.DefaultHTTPTimeout, d.http.WriteTimeout)
}

func TestWebRTCDialRequiresEphemeralKey(t *testing.T) {
	d, err := NewWebRTCDialer(shared.NewNopLogger(), "https://api.openai.com/v1/realtime", "gpt-realtime", 0)
	require.NoError(t, err)
	_, err = d.Dial(context.Background(), realtime.Credential{SessionID: "sess_1"})
	assert.ErrorIs(t, err, shared.ErrCredential)
}

func TestInt16ToBytes(t *testing.T) {
	assert.Equal(t, []byte{0xff, 0x7f, 0x00, 0x80, 0x00, 0x00}, int16ToBytes([]int16{32767, -32768, 0}))
	assert.Equal(t, []float32{-1}, realtime.DecodePCM16(int16ToBytes([]int16{-32768})))
}

func TestNewDialer(t *testing.T) {
	cfg := shared.DefaultConfig()

	cfg.Transport = shared.TransportWebSocket
	d, err := NewDialer(shared.NewNopLogger(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &WebSocketDialer{}, d)

	cfg.Transport = shared.TransportWebRTC
	d, err = NewDialer(shared.NewNopLogger(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &WebRTCDialer{}, d)

	cfg.Transport = "carrier-pigeon"
	_, err = NewDialer(shared.NewNopLogger(), cfg)
	assert.Error(t, err)

	_, err = NewDialer(shared.NewNopLogger(), nil)
	assert.ErrorIs(t, err, shared.ErrNoConfig)
}
