package mock_test

import (
	"context"
	"errors"
	"io"
	"testing"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/mock"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialer_Dial(t *testing.T) {
	t.Parallel()
	t.Run("delegates to DialFn", func(t *testing.T) {
		t.Parallel()
		ch := mock.NewChannel()
		d := mock.Dialer{
			DialFn: func(ctx context.Context, cred realtime.Credential) (realtime.Channel, error) {
				assert.Equal(t, "sess_1", cred.SessionID)
				return ch, nil
			},
		}
		got, err := d.Dial(context.Background(), realtime.Credential{SessionID: "sess_1"})
		require.NoError(t, err)
		assert.Equal(t, ch, got)
	})

	t.Run("panics when DialFn not set", func(t *testing.T) {
		t.Parallel()
		d := mock.Dialer{}
		assert.Panics(t, func() {
			_, _ = d.Dial(context.Background(), realtime.Credential{})
		})
	})
}

func TestCredentialSource_CreateRealtimeSession(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("backend down")
	s := mock.CredentialSource{
		CreateRealtimeSessionFn: func(ctx context.Context) (realtime.Credential, error) {
			return realtime.Credential{}, wantErr
		},
	}
	_, err := s.CreateRealtimeSession(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestChannel(t *testing.T) {
	t.Parallel()
	t.Run("records sends in order", func(t *testing.T) {
		t.Parallel()
		ch := mock.NewChannel()
		update, err := realtime.NewSessionUpdateEvent(realtime.DefaultSessionConfig())
		require.NoError(t, err)
		require.NoError(t, ch.Send(update))
		require.NoError(t, ch.SendAudio([]float32{0, 0.5}))
		assert.Equal(t, []realtime.ClientEventType{
			realtime.ClientEventTypeSessionUpdate,
			realtime.ClientEventTypeInputAudioBufferAppend,
		}, ch.SentTypes())
	})

	t.Run("fails fast after close", func(t *testing.T) {
		t.Parallel()
		ch := mock.NewChannel()
		require.NoError(t, ch.Close())
		require.NoError(t, ch.Close())
		assert.True(t, ch.Closed())
		assert.ErrorIs(t, ch.SendAudio([]float32{0}), shared.ErrChannelClosed)
	})

	t.Run("delivers pushed frames", func(t *testing.T) {
		t.Parallel()
		ch := mock.NewChannel()
		ch.PushEvent(`{"type":"response.done"}`)
		frame := <-ch.Inbound()
		assert.JSONEq(t, `{"type":"response.done"}`, string(frame.Data))
	})
}

func TestMicrophone(t *testing.T) {
	t.Parallel()
	m := mock.NewMicrophone()
	go m.Feed([]float32{0.25})
	got, err := m.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25}, got)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	_, err = m.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, m.Feed([]float32{1}))
}
