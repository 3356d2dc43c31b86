package realtime

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3/packages/param"
	oairt "github.com/openai/openai-go/v3/realtime"
)

// SessionSchema selects the shape of the session.update payload.
type SessionSchema string

const (
	// SessionSchemaBeta is the flat session object (input_audio_format,
	// turn_detection, ...) spoken by the application's realtime relay.
	SessionSchemaBeta SessionSchema = "beta"
	// SessionSchemaGA is the nested audio.input/audio.output object of the
	// generally available realtime API.
	SessionSchemaGA SessionSchema = "ga"
)

type TurnDetection struct {
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	// Semantic VAD eagerness, GA schema only: low, medium, high or auto.
	Eagerness string
}

type SessionConfig struct {
	Schema             SessionSchema
	Model              string
	Instructions       string
	Voice              string
	TranscriptionModel string
	TurnDetection      TurnDetection
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Schema:             SessionSchemaBeta,
		Instructions:       "You are a friendly in-store shopping guide. Answer briefly and help the user compare products.",
		Voice:              "alloy",
		TranscriptionModel: "whisper-1",
		TurnDetection: TurnDetection{
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			Eagerness:         "auto",
		},
	}
}

// NewSessionUpdateEvent builds the configuration event sent once the channel
// opens.
func NewSessionUpdateEvent(cfg SessionConfig) (*ClientEvent, error) {
	var (
		session map[string]any
		err     error
	)
	switch cfg.Schema {
	case SessionSchemaBeta, "":
		session = cfg.betaSession()
	case SessionSchemaGA:
		session, err = cfg.gaSession()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown session schema %q", cfg.Schema)
	}
	return newClientEvent(ClientEventTypeSessionUpdate, &ClientEventParamSessionUpdate{Session: session}), nil
}

func (cfg SessionConfig) betaSession() map[string]any {
	return map[string]any{
		"instructions":        cfg.Instructions,
		"voice":               cfg.Voice,
		"modalities":          []any{"text", "audio"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": cfg.TranscriptionModel,
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           cfg.TurnDetection.Threshold,
			"prefix_padding_ms":   cfg.TurnDetection.PrefixPaddingMs,
			"silence_duration_ms": cfg.TurnDetection.SilenceDurationMs,
		},
	}
}

func (cfg SessionConfig) gaSession() (map[string]any, error) {
	pcm := oairt.RealtimeAudioFormatsUnionParam{
		OfAudioPCM: &oairt.RealtimeAudioFormatsAudioPCMParam{
			Rate: SampleRate,
			Type: "audio/pcm",
		},
	}
	req := &oairt.RealtimeSessionCreateRequestParam{
		Instructions: param.NewOpt(cfg.Instructions),
		Model:        cfg.Model,
		Audio: oairt.RealtimeAudioConfigParam{
			Input: oairt.RealtimeAudioConfigInputParam{
				TurnDetection: oairt.RealtimeAudioInputTurnDetectionUnionParam{
					OfSemanticVad: &oairt.RealtimeAudioInputTurnDetectionSemanticVadParam{
						CreateResponse:    param.NewOpt(true),
						InterruptResponse: param.NewOpt(true),
						Eagerness:         cfg.TurnDetection.Eagerness,
					},
				},
				Format: pcm,
				Transcription: oairt.AudioTranscriptionParam{
					Model: oairt.AudioTranscriptionModel(cfg.TranscriptionModel),
				},
			},
			Output: oairt.RealtimeAudioConfigOutputParam{
				Format: pcm,
				Voice:  oairt.RealtimeAudioConfigOutputVoice(cfg.Voice),
			},
		},
	}
	raw, err := req.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling session config: %w", err)
	}
	var session map[string]any
	if err := sonic.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("re-reading session config: %w", err)
	}
	return session, nil
}

// contentType is the history item content part type for role.
func (cfg SessionConfig) contentType(role Role) string {
	if cfg.Schema != SessionSchemaGA {
		return "text"
	}
	if role == RoleAssistant {
		return "output_text"
	}
	return "input_text"
}
