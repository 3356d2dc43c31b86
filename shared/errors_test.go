package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "Nil", err: nil, contains: ""},
		{name: "Microphone", err: fmt.Errorf("%w: opening device: permission denied", ErrMicrophone), contains: "microphone"},
		{name: "Credential", err: fmt.Errorf("%w: %w", ErrCredential, ErrUnauthorized), contains: "Could not start a voice session"},
		{name: "Handshake", err: fmt.Errorf("%w: no connection after 15s", ErrHandshake), contains: "Could not connect"},
		{name: "Channel", err: fmt.Errorf("%w: channel closed by remote", ErrChannel), contains: "connection to the voice assistant was lost"},
		{name: "Protocol", err: fmt.Errorf("%w: quota exceeded", ErrProtocol), contains: "The voice assistant reported an error: quota exceeded"},
		{name: "Unclassified", err: errors.New("boom"), contains: "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserMessage(tt.err)
			if tt.err == nil {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.contains)
		})
	}
}

func TestUserMessageHidesInternals(t *testing.T) {
	err := fmt.Errorf("%w: dialing wss://relay.internal: %w", ErrHandshake, ErrForbidden)
	assert.NotContains(t, UserMessage(err), "relay.internal")
}
