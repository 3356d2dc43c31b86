// Package agents assembles a runnable voice assistant from configuration.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/backend"
	"github.com/bt-bridge/shopguide-realtime/history"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/bt-bridge/shopguide-realtime/tools"
	"github.com/bt-bridge/shopguide-realtime/transport"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

const speakerBufferMs = 100

// Option replaces one of the collaborators VoiceAgent would otherwise build
// from configuration.
type Option func(*VoiceAgent)

func WithCredentials(src realtime.CredentialSource) Option {
	return func(a *VoiceAgent) { a.credentials = src }
}

func WithDialer(d realtime.Dialer) Option {
	return func(a *VoiceAgent) { a.dialer = d }
}

func WithMicrophones(src realtime.MicrophoneSource) Option {
	return func(a *VoiceAgent) { a.microphones = src }
}

func WithPlayer(p realtime.Player) Option {
	return func(a *VoiceAgent) { a.player = p }
}

// WithHistory uses store for seeding and recording. The caller keeps
// ownership of it.
func WithHistory(store *history.Store) Option {
	return func(a *VoiceAgent) { a.store = store }
}

// VoiceAgent runs one realtime voice conversation, printing transcripts and
// recording finished turns.
type VoiceAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	cfg     *shared.Config

	credentials realtime.CredentialSource
	dialer      realtime.Dialer
	microphones realtime.MicrophoneSource
	player      realtime.Player
	store       *history.Store
	ownsStore   bool

	controller *realtime.Controller
	ctx        context.Context
	// true once the current assistant utterance has streamed a delta
	streamed atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewVoiceAgent(logger shared.LoggerAdapter, cfg *shared.Config, printer *shared.Printer, opts ...Option) (*VoiceAgent, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	a := &VoiceAgent{
		logger:  logger.With(zap.String("component", "voice-agent")),
		printer: printer,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Spawn builds any missing collaborators and starts the session seeded with
// stored history. It returns once the session is connecting; the returned
// channel closes when the session ends.
func (a *VoiceAgent) Spawn(ctx context.Context) (<-chan struct{}, error) {
	a.ctx = ctx
	a.logger.Info("spawning voice agent", zap.String("transport", a.cfg.Transport))
	a.writeln("🤖 Spawning voice agent...\n", 0)

	if err := a.setup(ctx); err != nil {
		a.logger.Error("setting up voice agent", err)
		return nil, err
	}

	session := SessionConfig(a.cfg)
	a.writeln("📋 Session Config\n", 0)
	if dump, err := yaml.Marshal(a.cfg.Session); err != nil {
		a.logger.Error("marshaling session config to yaml", err)
	} else if err := a.printer.Write(string(dump), 1); err != nil {
		a.logger.Error("printing session config", err)
	}

	negotiator, err := realtime.NewNegotiator(a.logger, a.credentials, a.dialer, a.microphones)
	if err != nil {
		return nil, err
	}
	a.controller, err = realtime.NewController(a.logger, negotiator, a.player, realtime.ControllerOptions{
		Session:          session,
		Transport:        a.cfg.Transport,
		HandshakeTimeout: a.cfg.Realtime.HandshakeTimeout(),
		Hooks: realtime.Hooks{
			OnState:          a.onState,
			OnUserText:       a.onUserText,
			OnAssistantDelta: a.onAssistantDelta,
			OnAssistantText:  a.onAssistantText,
			OnError:          a.onError,
		},
	})
	if err != nil {
		return nil, err
	}

	var turns []realtime.ConversationTurn
	if a.store != nil {
		turns, err = a.store.Recent(ctx, a.cfg.History.SeedLimit)
		if err != nil {
			a.logger.Error("loading conversation history", err)
			turns = nil
		}
	}
	a.logger.Info("starting realtime session", zap.Int("history_turns", len(turns)))
	a.writeln("\n\n🎤 Connecting...", 0)
	a.controller.Start(ctx, turns)
	return a.done, nil
}

func (a *VoiceAgent) setup(ctx context.Context) error {
	if a.credentials == nil {
		client, err := backend.NewClient(a.logger, a.cfg.Backend.BaseURL, a.cfg.Backend.Token)
		if err != nil {
			return err
		}
		if err := client.EnsureToken(ctx, a.cfg.Backend.DeviceID); err != nil {
			return err
		}
		a.credentials = client.Credentials()
	}
	if a.dialer == nil {
		d, err := transport.NewDialer(a.logger, a.cfg)
		if err != nil {
			return err
		}
		a.dialer = d
	}
	if a.microphones == nil {
		src, err := tools.NewMicrophoneSource(a.logger)
		if err != nil {
			return err
		}
		a.microphones = src
	}
	if a.player == nil {
		speaker, err := tools.NewSpeaker(a.logger, speakerBufferMs)
		if err != nil {
			return err
		}
		a.player = speaker
	}
	if a.store == nil && a.cfg.History.Path != "" {
		store, err := history.Open(a.cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		a.store = store
		a.ownsStore = true
	}
	return nil
}

// SessionConfig maps the session section of cfg onto the wire configuration.
func SessionConfig(cfg *shared.Config) realtime.SessionConfig {
	return realtime.SessionConfig{
		Schema:             realtime.SessionSchema(cfg.Session.Schema),
		Model:              cfg.Realtime.Model,
		Instructions:       cfg.Session.Instructions,
		Voice:              cfg.Session.Voice,
		TranscriptionModel: cfg.Session.TranscriptionModel,
		TurnDetection: realtime.TurnDetection{
			Threshold:         cfg.Session.VADThreshold,
			PrefixPaddingMs:   cfg.Session.VADPrefixPaddingMs,
			SilenceDurationMs: cfg.Session.VADSilenceMs,
			Eagerness:         cfg.Session.VADEagerness,
		},
	}
}

func (a *VoiceAgent) onState(s realtime.State) {
	a.logger.Debug("session state", zap.Stringer("state", s))
	if s == realtime.StateActive {
		a.writeln("✅ Listening. Press Ctrl+C to end the conversation.\n", 0)
	}
}

func (a *VoiceAgent) onUserText(text string) {
	if err := a.printer.Say(shared.SpeakerUser, text); err != nil {
		a.logger.Error("printing user transcript", err)
	}
	a.record(realtime.RoleUser, text)
}

func (a *VoiceAgent) onAssistantDelta(delta string) {
	a.streamed.Store(true)
	if err := a.printer.Stream(shared.SpeakerAssistant, delta); err != nil {
		a.logger.Error("printing assistant delta", err)
	}
}

func (a *VoiceAgent) onAssistantText(text string) {
	var err error
	if a.streamed.Swap(false) {
		err = a.printer.EndStream()
	} else {
		err = a.printer.Say(shared.SpeakerAssistant, text)
	}
	if err != nil {
		a.logger.Error("printing assistant transcript", err)
	}
	a.record(realtime.RoleAssistant, text)
}

func (a *VoiceAgent) onError(err error, message string) {
	if perr := a.printer.Say(shared.SpeakerSystem, message); perr != nil {
		a.logger.Error("printing session error", perr)
	}
	a.finish()
}

func (a *VoiceAgent) record(role realtime.Role, text string) {
	if a.store == nil {
		return
	}
	if err := a.store.Append(a.ctx, realtime.ConversationTurn{Role: role, Text: text}); err != nil {
		a.logger.Error("recording turn", err, zap.String("role", string(role)))
	}
}

func (a *VoiceAgent) writeln(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err)
	}
}

func (a *VoiceAgent) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Done closes when the session has ended, by failure or Close.
func (a *VoiceAgent) Done() <-chan struct{} {
	return a.done
}

// Controller is nil before Spawn.
func (a *VoiceAgent) Controller() *realtime.Controller {
	return a.controller
}

// Close stops the session and releases what the agent opened.
func (a *VoiceAgent) Close() error {
	if a.controller != nil {
		a.controller.Stop()
	}
	defer a.finish()
	if a.ownsStore && a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("closing history: %w", err)
		}
	}
	return nil
}
