package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var errSessionStopped = errors.New("session stopped")

// Session is one realtime conversation attempt and the resources it owns.
// It is created by Controller.Start and torn down exactly once.
type Session struct {
	ID        string
	Transport string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	// playback queue generation owned by this session; zero until it is open
	playback atomic.Uint64

	mu     sync.Mutex
	res    *Resources
	closed bool
}

func newSession(parent context.Context, transport string) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	return &Session{
		ID:        uuid.NewString(),
		Transport: transport,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Credential returns the live credential, or the zero value once closed.
func (s *Session) Credential() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res == nil {
		return Credential{}
	}
	return s.res.Credential()
}

// attach hands negotiated resources to the session. It returns false when
// the session was closed meanwhile; the caller then owns res.
func (s *Session) attach(res *Resources) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.res = res
	return true
}

func (s *Session) close(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	res := s.res
	s.mu.Unlock()

	s.cancel(cause)
	if res != nil {
		res.Release()
	}
}
