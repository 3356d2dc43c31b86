package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/shopguide-realtime/shared"
	"go.uber.org/zap"
)

// Resources is what a successful negotiation hands to a Session.
type Resources struct {
	Channel    Channel
	Microphone Microphone

	mu   sync.Mutex
	cred Credential
	once sync.Once
}

// Credential is the zero value after Release.
func (r *Resources) Credential() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cred
}

// Release stops capture, closes the channel and discards the credential.
// Safe to call more than once.
func (r *Resources) Release() {
	r.once.Do(func() {
		if r.Microphone != nil {
			_ = r.Microphone.Close()
		}
		if r.Channel != nil {
			_ = r.Channel.Close()
		}
		r.mu.Lock()
		r.cred = Credential{}
		r.mu.Unlock()
	})
}

// Negotiator acquires the microphone, a session credential and an open
// channel, in that order.
type Negotiator struct {
	logger      shared.LoggerAdapter
	credentials CredentialSource
	dialer      Dialer
	microphones MicrophoneSource
}

func NewNegotiator(logger shared.LoggerAdapter, credentials CredentialSource, dialer Dialer, microphones MicrophoneSource) (*Negotiator, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if credentials == nil || dialer == nil || microphones == nil {
		return nil, errors.New("credentials, dialer and microphones are required")
	}
	return &Negotiator{
		logger:      logger,
		credentials: credentials,
		dialer:      dialer,
		microphones: microphones,
	}, nil
}

func (n *Negotiator) Negotiate(ctx context.Context) (*Resources, error) {
	mic, err := n.microphones.Open(ctx)
	if err != nil {
		return nil, classify(shared.ErrMicrophone, "opening microphone", err)
	}

	cred, err := n.credentials.CreateRealtimeSession(ctx)
	if err == nil && cred.Empty() {
		err = errors.New("backend returned no credential")
	}
	if err != nil {
		_ = mic.Close()
		return nil, classify(shared.ErrCredential, "creating realtime session", err)
	}
	n.logger.Debug("realtime session created", zap.String("session_id", cred.SessionID))

	ch, err := n.dialer.Dial(ctx, cred)
	if err != nil {
		_ = mic.Close()
		return nil, classify(shared.ErrHandshake, "dialing realtime channel", err)
	}
	return &Resources{Channel: ch, Microphone: mic, cred: cred}, nil
}

var failureClasses = []error{
	shared.ErrCredential,
	shared.ErrHandshake,
	shared.ErrMicrophone,
	shared.ErrChannel,
	shared.ErrProtocol,
}

// classify wraps err in class unless it already carries a failure class.
func classify(class error, doing string, err error) error {
	for _, c := range failureClasses {
		if errors.Is(err, c) {
			return fmt.Errorf("%s: %w", doing, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", class, doing, err)
}
