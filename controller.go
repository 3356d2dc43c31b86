package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bt-bridge/shopguide-realtime/shared"
	"go.uber.org/zap"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Hooks receive controller output. They are never called with the
// controller's lock held, and may be nil.
type Hooks struct {
	OnState          func(State)
	OnUserText       func(text string)
	OnAssistantDelta func(delta string)
	OnAssistantText  func(text string)
	// OnError receives the failure and its user-facing rendering.
	OnError func(err error, message string)
}

type ControllerOptions struct {
	Session SessionConfig
	Hooks   Hooks
	// Transport is recorded on each Session.
	Transport string
	// HandshakeTimeout bounds credential fetch plus transport connect.
	// Zero means shared.DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// Controller drives one session at a time through
// negotiation, configuration, streaming and teardown.
type Controller struct {
	logger     shared.LoggerAdapter
	negotiator *Negotiator
	queue      *PlaybackQueue
	opts       ControllerOptions

	mu      sync.Mutex
	state   State
	err     error
	session *Session
	// generation changes on every Start and Stop.
	generation uint64
}

func NewController(logger shared.LoggerAdapter, negotiator *Negotiator, player Player, opts ControllerOptions) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if negotiator == nil || player == nil {
		return nil, errors.New("negotiator and player are required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = shared.DefaultHandshakeTimeout
	}
	return &Controller{
		logger:     logger,
		negotiator: negotiator,
		queue:      NewPlaybackQueue(player),
		opts:       opts,
	}, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the failure that put the controller in StateFailed, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Session returns the current session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) Queue() *PlaybackQueue {
	return c.queue
}

// Start begins a session seeded with history. It returns immediately; the
// outcome is reported through Hooks and State. Start is a no-op while a
// session is connecting or active.
func (c *Controller) Start(ctx context.Context, history []ConversationTurn) {
	c.mu.Lock()
	if state := c.state; state == StateConnecting || state == StateActive {
		c.mu.Unlock()
		c.logger.Debug("start ignored", zap.Stringer("state", state))
		return
	}
	var notify []State
	if c.state == StateFailed {
		notify = append(notify, StateIdle)
	}
	sess := newSession(ctx, c.opts.Transport)
	c.session = sess
	c.generation++
	c.err = nil
	c.state = StateConnecting
	c.mu.Unlock()

	for _, s := range append(notify, StateConnecting) {
		c.emitState(s)
	}
	go c.run(sess, history)
}

// Stop tears down the current session, if any, and returns to StateIdle. It
// is safe to call from any state and more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	sess := c.session
	if sess == nil && c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.generation++
	gen := c.generation
	c.err = nil
	c.state = StateClosing
	c.mu.Unlock()
	c.emitState(StateClosing)

	if sess != nil {
		sess.close(errSessionStopped)
		c.logger.Info("realtime session stopped", zap.String("session", sess.ID))
		c.queue.ClearIn(sess.playback.Load())
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.mu.Unlock()
	c.emitState(StateIdle)
}

func (c *Controller) run(sess *Session, history []ConversationTurn) {
	logger := c.logger.With(zap.String("session", sess.ID), zap.String("transport", sess.Transport))

	hctx, cancel := context.WithTimeout(sess.ctx, c.opts.HandshakeTimeout)
	res, err := c.negotiator.Negotiate(hctx)
	timedOut := errors.Is(hctx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		if timedOut {
			err = fmt.Errorf("%w: no connection after %s", shared.ErrHandshake, c.opts.HandshakeTimeout)
		}
		c.fail(sess, err)
		return
	}
	if !sess.attach(res) {
		res.Release()
		return
	}
	logger.Info("realtime channel open")
	// Audio still queued from an earlier session is dropped, and late chunks
	// of that session can no longer enqueue.
	sess.playback.Store(c.queue.Clear())

	update, err := NewSessionUpdateEvent(c.opts.Session)
	if err != nil {
		c.fail(sess, fmt.Errorf("%w: building session.update: %w", shared.ErrHandshake, err))
		return
	}
	if err := res.Channel.Send(update); err != nil {
		c.fail(sess, classify(shared.ErrChannel, "sending session.update", err))
		return
	}
	seeded := buildHistoryEvents(c.opts.Session, history)
	for _, event := range seeded {
		if err := res.Channel.Send(event); err != nil {
			c.fail(sess, classify(shared.ErrChannel, "sending history", err))
			return
		}
	}
	logger.Debug("session configured", zap.Int("history_items", len(seeded)))

	if !c.activate(sess) {
		return
	}
	go c.pumpMicrophone(sess, res)
	c.dispatch(sess, res, logger)
}

func (c *Controller) activate(sess *Session) bool {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return false
	}
	c.state = StateActive
	c.mu.Unlock()
	c.emitState(StateActive)
	return true
}

// pumpMicrophone forwards capture frames in order until the session ends.
func (c *Controller) pumpMicrophone(sess *Session, res *Resources) {
	for {
		samples, err := res.Microphone.ReadFrame()
		if sess.ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("capture ended")
			}
			c.fail(sess, classify(shared.ErrMicrophone, "reading microphone", err))
			return
		}
		if len(samples) == 0 {
			continue
		}
		if err := res.Channel.SendAudio(samples); err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			c.fail(sess, classify(shared.ErrChannel, "sending audio", err))
			return
		}
	}
}

// dispatch consumes inbound frames serially; the transcript accumulator is
// owned by this loop.
func (c *Controller) dispatch(sess *Session, res *Resources, logger shared.LoggerAdapter) {
	var transcript TranscriptAccumulator
	playback := sess.playback.Load()
	inbound := res.Channel.Inbound()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case frame, ok := <-inbound:
			if sess.ctx.Err() != nil {
				return
			}
			switch {
			case !ok:
				c.fail(sess, fmt.Errorf("%w: channel closed by remote", shared.ErrChannel))
				return
			case frame.Err != nil:
				c.fail(sess, classify(shared.ErrChannel, "receiving", frame.Err))
				return
			case frame.Audio != nil:
				c.queue.EnqueueIn(playback, DecodePCM16(frame.Audio))
			default:
				if err := c.handleEvent(logger, playback, &transcript, frame.Data); err != nil {
					c.fail(sess, err)
					return
				}
			}
		}
	}
}

// handleEvent applies one inbound event. Only a remote error is returned;
// malformed and unknown events are logged and dropped.
func (c *Controller) handleEvent(logger shared.LoggerAdapter, playback uint64, transcript *TranscriptAccumulator, data []byte) error {
	event := new(ServerEvent)
	if err := event.UnmarshalJSON(data); err != nil {
		logger.Warn("dropping malformed event", zap.Error(err), zap.Int("bytes", len(data)))
		return nil
	}

	switch p := event.Param.(type) {
	case nil:
		logger.Debug("ignoring event", zap.String("type", string(event.Type)))
	case *ServerEventParamError:
		message := p.Message
		if message == "" {
			message = "unspecified remote error"
		}
		logger.Warn("remote error", zap.String("code", p.Code), zap.String("message", message))
		return fmt.Errorf("%w: %s", shared.ErrProtocol, message)
	case *ServerEventParamSession:
		logger.Debug(string(event.Type))
	case *ServerEventParamSpeech:
		logger.Debug(string(event.Type), zap.String("item_id", p.ItemId), zap.Int("audio_ms", p.AudioMs))
	case *ServerEventParamTranscriptionCompleted:
		if text := strings.TrimSpace(p.Transcript); text != "" {
			call(c.opts.Hooks.OnUserText, text)
		}
	case *ServerEventParamTranscriptDelta:
		transcript.Append(p.Delta)
		call(c.opts.Hooks.OnAssistantDelta, p.Delta)
	case *ServerEventParamTranscriptDone:
		text := transcript.Flush()
		if text == "" {
			text = p.Transcript
		}
		if text != "" {
			call(c.opts.Hooks.OnAssistantText, text)
		}
	case *ServerEventParamAudioDelta:
		pcm, err := FromBase64(p.Delta)
		if err != nil {
			logger.Warn("dropping undecodable audio delta", zap.Error(err))
			return nil
		}
		c.queue.EnqueueIn(playback, DecodePCM16(pcm))
	case *ServerEventParamResponseDone:
		logger.Debug(string(event.Type))
	}
	return nil
}

// fail tears sess down and parks the controller in StateFailed. Failures of a
// session that is no longer current only release its resources.
func (c *Controller) fail(sess *Session, err error) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		sess.close(err)
		return
	}
	c.session = nil
	gen := c.generation
	c.mu.Unlock()

	sess.close(err)
	c.queue.ClearIn(sess.playback.Load())
	c.logger.Error("realtime session failed", err, zap.String("session", sess.ID))

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.err = err
	c.mu.Unlock()

	c.emitState(StateFailed)
	if c.opts.Hooks.OnError != nil {
		c.opts.Hooks.OnError(err, shared.UserMessage(err))
	}
}

func (c *Controller) emitState(s State) {
	if c.opts.Hooks.OnState != nil {
		c.opts.Hooks.OnState(s)
	}
}

func call(hook func(string), s string) {
	if hook != nil {
		hook(s)
	}
}
