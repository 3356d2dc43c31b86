package shared

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func serveInMemory(t *testing.T, client *fasthttp.Client, handler fasthttp.RequestHandler) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { _ = ln.Close() })
	client.Dial = func(addr string) (net.Conn, error) { return ln.Dial() }
}

func TestNewHTTPClientDefaults(t *testing.T) {
	c := NewHTTPClient(0)
	assert.Equal(t, DefaultHTTPTimeout, c.ReadTimeout)
	assert.Equal(t, DefaultHTTPTimeout, c.WriteTimeout)
}

func TestDoContextTimesOutWithoutDeadline(t *testing.T) {
	release := make(chan struct{})
	client := NewHTTPClient(50 * time.Millisecond)
	serveInMemory(t, client, func(ctx *fasthttp.RequestCtx) { <-release })
	t.Cleanup(func() { close(release) })

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI("http://backend.test/hang")

	start := time.Now()
	err := DoContext(context.Background(), client, req, resp)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoContextCancel(t *testing.T) {
	release := make(chan struct{})
	client := NewHTTPClient(time.Minute)
	serveInMemory(t, client, func(ctx *fasthttp.RequestCtx) { <-release })
	t.Cleanup(func() { close(release) })

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI("http://backend.test/hang")

	cause := errors.New("shutting down")
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(20*time.Millisecond, func() { cancel(cause) })
	err := DoContext(ctx, client, req, resp)
	assert.ErrorIs(t, err, cause)
}
