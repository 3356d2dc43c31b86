package shared

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultHTTPTimeout bounds each read and write of a backend or SDP request.
const DefaultHTTPTimeout = 30 * time.Second

// NewHTTPClient returns a client whose requests fail after timeout even when
// the caller's context carries no deadline.
func NewHTTPClient(timeout time.Duration) *fasthttp.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &fasthttp.Client{
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
		MaxIdleConnDuration: timeout,
	}
}

// DoContext performs req on client and returns early when ctx is done. The
// request and response must not be pooled: on cancellation the in-flight call
// keeps using them until it returns.
func DoContext(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
	errC := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			errC <- client.DoDeadline(req, resp, deadline)
			return
		}
		errC <- client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case err := <-errC:
		return err
	}
}
