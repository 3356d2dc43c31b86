package shared

import (
	"errors"
	"strings"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNoLogger      = errors.New("no logger provided")
	ErrNoConfig      = errors.New("no config provided")
	ErrChannelClosed = errors.New("channel closed")
	ErrUnknownEvent  = errors.New("unknown event type")
)

// Session failure classes. Every error surfaced by a realtime session wraps
// exactly one of these.
var (
	ErrCredential = errors.New("credential error")
	ErrHandshake  = errors.New("handshake error")
	ErrMicrophone = errors.New("microphone error")
	ErrChannel    = errors.New("channel error")
	ErrProtocol   = errors.New("protocol error")
)

// UserMessage renders err as the single message shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMicrophone):
		return "Unable to access the microphone. Please make sure it is connected and that microphone permission has been granted."
	case errors.Is(err, ErrCredential):
		return "Could not start a voice session with the assistant service. Please try again."
	case errors.Is(err, ErrHandshake):
		return "Could not connect to the voice assistant. Check your network and try again."
	case errors.Is(err, ErrChannel):
		return "The connection to the voice assistant was lost. Tap to start a new conversation."
	case errors.Is(err, ErrProtocol):
		return "The voice assistant reported an error: " + protocolDetail(err)
	default:
		return "Something went wrong with the voice session. Please try again."
	}
}

func protocolDetail(err error) string {
	return strings.TrimPrefix(err.Error(), ErrProtocol.Error()+": ")
}
