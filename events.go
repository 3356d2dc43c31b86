package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types. Where the realtime API renamed an event between the beta
// and GA protocols both names are listed; they decode to the same param type.
const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted                    ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped                    ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeResponseAudioTranscriptDelta                     ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone                      ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseAudioDelta                               ServerEventType = "response.audio.delta"
	ServerEventTypeResponseOutputAudioTranscriptDelta               ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioTranscriptDone                ServerEventType = "response.output_audio_transcript.done"
	ServerEventTypeResponseOutputAudioDelta                         ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
)

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

// ServerEvent is an inbound envelope. Param is nil for event types this client
// does not model; callers log and skip those.
type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   EventParam
}

func (e *ServerEvent) Known() bool {
	return e.Param != nil
}

func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	return marshalEnvelope(e.EventId, EventType(e.Type), e.Param)
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	raw, eventId, typ, err := unmarshalEnvelope(data)
	if err != nil {
		return err
	}
	e.EventId = eventId
	e.Type = ServerEventType(typ)
	switch e.Type {
	case ServerEventTypeError:
		e.Param = new(ServerEventParamError)
	case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
		e.Param = new(ServerEventParamSession)
	case ServerEventTypeInputAudioBufferSpeechStarted, ServerEventTypeInputAudioBufferSpeechStopped:
		e.Param = new(ServerEventParamSpeech)
	case ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		e.Param = new(ServerEventParamTranscriptionCompleted)
	case ServerEventTypeResponseAudioTranscriptDelta, ServerEventTypeResponseOutputAudioTranscriptDelta:
		e.Param = new(ServerEventParamTranscriptDelta)
	case ServerEventTypeResponseAudioTranscriptDone, ServerEventTypeResponseOutputAudioTranscriptDone:
		e.Param = new(ServerEventParamTranscriptDone)
	case ServerEventTypeResponseAudioDelta, ServerEventTypeResponseOutputAudioDelta:
		e.Param = new(ServerEventParamAudioDelta)
	case ServerEventTypeResponseDone:
		e.Param = new(ServerEventParamResponseDone)
	default:
		e.Param = nil
		return nil
	}
	if err := e.Param.New(raw); err != nil {
		return fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	return nil
}

// ClientEvent is an outbound envelope.
type ClientEvent struct {
	EventId string
	Type    ClientEventType
	Param   EventParam
}

func newClientEvent(t ClientEventType, p EventParam) *ClientEvent {
	return &ClientEvent{EventId: "evt_" + uuid.NewString(), Type: t, Param: p}
}

func (e *ClientEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	return marshalEnvelope(e.EventId, EventType(e.Type), e.Param)
}

func (e *ClientEvent) UnmarshalJSON(data []byte) error {
	raw, eventId, typ, err := unmarshalEnvelope(data)
	if err != nil {
		return err
	}
	e.EventId = eventId
	e.Type = ClientEventType(typ)
	switch e.Type {
	case ClientEventTypeSessionUpdate:
		e.Param = new(ClientEventParamSessionUpdate)
	case ClientEventTypeConversationItemCreate:
		e.Param = new(ClientEventParamConversationItemCreate)
	case ClientEventTypeInputAudioBufferAppend:
		e.Param = new(ClientEventParamInputAudioBufferAppend)
	default:
		return fmt.Errorf("%w: %s", shared.ErrUnknownEvent, e.Type)
	}
	return e.Param.New(raw)
}

func marshalEnvelope(eventId string, typ EventType, param EventParam) ([]byte, error) {
	resp := map[string]any{}
	if param != nil {
		for k, v := range param.Json() {
			resp[k] = v
		}
	}
	if eventId != "" {
		resp["event_id"] = eventId
	}
	resp["type"] = typ
	return sonic.Marshal(resp)
}

func unmarshalEnvelope(data []byte) (raw map[string]any, eventId, typ string, err error) {
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, "", "", err
	}
	if raw == nil {
		return nil, "", "", errors.New("event is not an object")
	}
	if v, ok := raw["type"].(string); ok && v != "" {
		typ = v
		delete(raw, "type")
	} else {
		return nil, "", "", errors.New("missing type")
	}
	// event_id is assigned by the remote model but absent on proxied frames.
	if v, ok := raw["event_id"].(string); ok {
		eventId = v
		delete(raw, "event_id")
	}
	return raw, eventId, typ, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func optString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// error
type ServerEventParamError struct {
	Type    string
	EventId string
	Code    string
	Message string
	Param   any
}

func (p *ServerEventParamError) New(jsonMap map[string]any) error {
	errObj, ok := jsonMap["error"].(map[string]any)
	if !ok {
		// Flattened form sent by some proxies.
		errObj = jsonMap
	}
	p.Type = optString(errObj, "type")
	p.Code = optString(errObj, "code")
	p.EventId = optString(errObj, "event_id")
	p.Param = errObj["param"]
	// A remote error always ends the session, so a missing message is not
	// treated as malformed.
	p.Message = optString(errObj, "message")
	return nil
}

func (p *ServerEventParamError) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":     p.Type,
			"event_id": p.EventId,
			"code":     p.Code,
			"message":  p.Message,
			"param":    p.Param,
		},
	}
}

// session.created, session.updated
type ServerEventParamSession struct {
	Session map[string]any
}

func (p *ServerEventParamSession) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ServerEventParamSession) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// input_audio_buffer.speech_started, input_audio_buffer.speech_stopped
type ServerEventParamSpeech struct {
	ItemId string
	// audio_start_ms for speech_started, audio_end_ms for speech_stopped
	AudioMs int
}

func (p *ServerEventParamSpeech) New(m map[string]any) error {
	p.ItemId = optString(m, "item_id")
	if v, ok := asInt(m["audio_start_ms"]); ok {
		p.AudioMs = v
	} else if v, ok := asInt(m["audio_end_ms"]); ok {
		p.AudioMs = v
	}
	return nil
}

func (p *ServerEventParamSpeech) Json() map[string]any {
	resp := map[string]any{}
	if p.ItemId != "" {
		resp["item_id"] = p.ItemId
	}
	return resp
}

// conversation.item.input_audio_transcription.completed
type ServerEventParamTranscriptionCompleted struct {
	ItemId       string
	ContentIndex int
	Transcript   string
}

func (p *ServerEventParamTranscriptionCompleted) New(m map[string]any) error {
	p.ItemId = optString(m, "item_id")
	p.ContentIndex, _ = asInt(m["content_index"])
	if v, ok := m["transcript"].(string); ok {
		p.Transcript = v
	} else {
		return errors.New("missing transcript")
	}
	return nil
}

func (p *ServerEventParamTranscriptionCompleted) Json() map[string]any {
	return map[string]any{
		"item_id":       p.ItemId,
		"content_index": p.ContentIndex,
		"transcript":    p.Transcript,
	}
}

// response.audio_transcript.delta, response.output_audio_transcript.delta
type ServerEventParamTranscriptDelta struct {
	ResponseId string
	ItemId     string
	Delta      string
}

func (p *ServerEventParamTranscriptDelta) New(m map[string]any) error {
	p.ResponseId = optString(m, "response_id")
	p.ItemId = optString(m, "item_id")
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

func (p *ServerEventParamTranscriptDelta) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"delta":       p.Delta,
	}
}

// response.audio_transcript.done, response.output_audio_transcript.done
type ServerEventParamTranscriptDone struct {
	ResponseId string
	ItemId     string
	Transcript string
}

func (p *ServerEventParamTranscriptDone) New(m map[string]any) error {
	p.ResponseId = optString(m, "response_id")
	p.ItemId = optString(m, "item_id")
	p.Transcript = optString(m, "transcript")
	return nil
}

func (p *ServerEventParamTranscriptDone) Json() map[string]any {
	resp := map[string]any{}
	if p.ResponseId != "" {
		resp["response_id"] = p.ResponseId
	}
	if p.ItemId != "" {
		resp["item_id"] = p.ItemId
	}
	if p.Transcript != "" {
		resp["transcript"] = p.Transcript
	}
	return resp
}

// response.audio.delta, response.output_audio.delta
type ServerEventParamAudioDelta struct {
	ResponseId string
	ItemId     string
	// base64 PCM16
	Delta string
}

func (p *ServerEventParamAudioDelta) New(m map[string]any) error {
	p.ResponseId = optString(m, "response_id")
	p.ItemId = optString(m, "item_id")
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

func (p *ServerEventParamAudioDelta) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"delta":       p.Delta,
	}
}

// response.done
type ServerEventParamResponseDone struct {
	Response map[string]any
}

func (p *ServerEventParamResponseDone) New(m map[string]any) error {
	p.Response, _ = m["response"].(map[string]any)
	return nil
}

func (p *ServerEventParamResponseDone) Json() map[string]any {
	return map[string]any{
		"response": p.Response,
	}
}

// session.update
type ClientEventParamSessionUpdate struct {
	Session map[string]any
}

func (p *ClientEventParamSessionUpdate) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ClientEventParamSessionUpdate) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// conversation.item.create
type ClientEventParamConversationItemCreate struct {
	Role        Role
	ContentType string
	Text        string
}

func (p *ClientEventParamConversationItemCreate) New(m map[string]any) error {
	item, ok := m["item"].(map[string]any)
	if !ok {
		return errors.New("missing item")
	}
	p.Role = Role(optString(item, "role"))
	content, ok := item["content"].([]any)
	if !ok || len(content) == 0 {
		return errors.New("missing item.content")
	}
	part, ok := content[0].(map[string]any)
	if !ok {
		return errors.New("malformed item.content")
	}
	p.ContentType = optString(part, "type")
	p.Text = optString(part, "text")
	return nil
}

func (p *ClientEventParamConversationItemCreate) Json() map[string]any {
	return map[string]any{
		"item": map[string]any{
			"type": "message",
			"role": p.Role,
			"content": []any{
				map[string]any{
					"type": p.ContentType,
					"text": p.Text,
				},
			},
		},
	}
}

// input_audio_buffer.append
type ClientEventParamInputAudioBufferAppend struct {
	// base64 PCM16
	Audio string
}

func (p *ClientEventParamInputAudioBufferAppend) New(m map[string]any) error {
	if v, ok := m["audio"].(string); ok {
		p.Audio = v
	} else {
		return errors.New("missing audio")
	}
	return nil
}

func (p *ClientEventParamInputAudioBufferAppend) Json() map[string]any {
	return map[string]any{
		"audio": p.Audio,
	}
}

// NewInputAudioBufferAppendEvent wraps captured samples for the WebSocket
// transport, which carries microphone audio inside JSON text frames.
func NewInputAudioBufferAppendEvent(samples []float32) *ClientEvent {
	return newClientEvent(ClientEventTypeInputAudioBufferAppend, &ClientEventParamInputAudioBufferAppend{
		Audio: ToBase64(EncodePCM16(samples)),
	})
}
