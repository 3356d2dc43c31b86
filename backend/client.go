// Package backend is the client for the shopping guide application backend:
// device auth bootstrap and realtime session creation.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	pathInitUser        = "/api/auth/init-user"
	pathRealtimeSession = "/ai/realtime/session"
)

type SessionResponse struct {
	SessionID    string `json:"session_id"`
	EphemeralKey string `json:"ephemeral_key,omitempty"`
}

type InitUserResponse struct {
	AccessToken string `json:"access_token"`
	Message     string `json:"message,omitempty"`
}

type Client struct {
	logger  shared.LoggerAdapter
	baseURL *url.URL
	http    *fasthttp.Client

	mu    sync.Mutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the default fasthttp client.
func WithHTTPClient(client *fasthttp.Client) Option {
	return func(c *Client) { c.http = client }
}

func NewClient(logger shared.LoggerAdapter, baseURL, token string, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend URL %q must be absolute", baseURL)
	}
	c := &Client{
		logger:  logger,
		baseURL: u,
		http:    shared.NewHTTPClient(shared.DefaultHTTPTimeout),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// NewDeviceID returns an id of the form device_<unix ms>_<9 random chars>.
func NewDeviceID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("device_%d_%s", time.Now().UnixMilli(), random)
}

// InitUser exchanges a device id for an access token and keeps it for later
// calls.
func (c *Client) InitUser(ctx context.Context, deviceID string) (*InitUserResponse, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	resp := new(InitUserResponse)
	if err := c.postJSON(ctx, pathInitUser, map[string]any{"device_id": deviceID}, resp); err != nil {
		return nil, fmt.Errorf("initializing user: %w", err)
	}
	if resp.AccessToken == "" {
		msg := resp.Message
		if msg == "" {
			msg = "no access token returned"
		}
		return nil, fmt.Errorf("initializing user: %s", msg)
	}
	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()
	c.logger.Info("user initialized", zap.String("device_id", deviceID))
	return resp, nil
}

// EnsureToken runs InitUser when no token is held yet.
func (c *Client) EnsureToken(ctx context.Context, deviceID string) error {
	if c.Token() != "" {
		return nil
	}
	if deviceID == "" {
		deviceID = NewDeviceID()
	}
	_, err := c.InitUser(ctx, deviceID)
	return err
}

func (c *Client) CreateRealtimeSession(ctx context.Context) (*SessionResponse, error) {
	resp := new(SessionResponse)
	if err := c.postJSON(ctx, pathRealtimeSession, map[string]any{}, resp); err != nil {
		return nil, fmt.Errorf("creating realtime session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, errors.New("creating realtime session: no session_id returned")
	}
	return resp, nil
}

// Credentials adapts the client to a realtime.CredentialSource.
func (c *Client) Credentials() realtime.CredentialSource {
	return realtime.CredentialSourceFunc(func(ctx context.Context) (realtime.Credential, error) {
		resp, err := c.CreateRealtimeSession(ctx)
		if err != nil {
			return realtime.Credential{}, err
		}
		return realtime.Credential{SessionID: resp.SessionID, EphemeralKey: resp.EphemeralKey}, nil
	})
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	// Not pooled: DoContext may return while the call still holds them.
	req := &fasthttp.Request{}
	resp := &fasthttp.Response{}
	req.SetRequestURI(c.baseURL.JoinPath(path).String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.SetBody(payload)

	if err := shared.DoContext(ctx, c.http, req, resp); err != nil {
		return fmt.Errorf("performing HTTP request: %w", err)
	}
	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusUnauthorized:
		return shared.ErrUnauthorized
	case status == fasthttp.StatusForbidden:
		return shared.ErrForbidden
	case status < 200 || status >= 300:
		return fmt.Errorf("unexpected status code: %d, body: %s", status, resp.Body())
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
