// Package realtime speaks the upstream realtime speech/LLM protocol: a
// bearer-authenticated WebSocket carrying JSON events discriminated by a
// "type" field. Events are decoded exactly once, at this boundary, into a
// tagged union; unrecognized types map to EventUnknown instead of an error so
// a protocol addition upstream can never take a session down.
package realtime

import "encoding/json"

type EventType string

const (
	EventSessionCreated      EventType = "session.created"
	EventSessionUpdated      EventType = "session.updated"
	EventResponseAudioDelta  EventType = "response.audio.delta"
	EventResponseTextDelta   EventType = "response.text.delta"
	EventResponseDone        EventType = "response.done"
	EventResponseContentDone EventType = "response.content.done"
	EventSpeechStarted       EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped       EventType = "input_audio_buffer.speech_stopped"
	EventBufferCommitted     EventType = "input_audio_buffer.committed"
	EventRateLimitsUpdated   EventType = "rate_limits.updated"
	EventError               EventType = "error"
	EventUnknown             EventType = ""
)

// DiagnosticEvents are recorded in the log but never forwarded to clients.
var DiagnosticEvents = map[EventType]bool{
	EventSessionCreated:      true,
	EventSessionUpdated:      true,
	EventResponseDone:        true,
	EventResponseContentDone: true,
	EventSpeechStopped:       true,
	EventBufferCommitted:     true,
	EventRateLimitsUpdated:   true,
}

// ErrorDetail carries the upstream error payload.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is the decoded upstream event. Delta is populated for the
// response.*.delta kinds; Err for error events. Raw retains the original
// bytes for diagnostic logging.
type Event struct {
	Type  EventType
	Delta string
	Err   *ErrorDetail
	Raw   []byte
}

type eventEnvelope struct {
	Type  string       `json:"type"`
	Delta string       `json:"delta"`
	Error *ErrorDetail `json:"error"`
}

// ParseEvent decodes one upstream message. A JSON failure is returned to the
// caller, which drops that message and keeps the connection alive.
func ParseEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, err
	}
	ev := Event{Delta: env.Delta, Err: env.Error, Raw: data}
	switch EventType(env.Type) {
	case EventSessionCreated, EventSessionUpdated, EventResponseAudioDelta,
		EventResponseTextDelta, EventResponseDone, EventResponseContentDone,
		EventSpeechStarted, EventSpeechStopped, EventBufferCommitted,
		EventRateLimitsUpdated, EventError:
		ev.Type = EventType(env.Type)
	default:
		ev.Type = EventUnknown
	}
	return ev, nil
}

// SessionConfig is the one-time handshake payload. It must be sent before any
// audio is appended; the relay enforces that ordering.
type SessionConfig struct {
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Modalities        []string       `json:"modalities,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
}

// TurnDetection selects the upstream voice-activity mode.
type TurnDetection struct {
	Type string `json:"type"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// NewSessionUpdate builds the session.update handshake message.
func NewSessionUpdate(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(sessionUpdate{Type: "session.update", Session: cfg})
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioAppend wraps a base64 audio payload in the append envelope. The
// payload passes through verbatim; no re-encoding.
func NewAudioAppend(b64 string) ([]byte, error) {
	return json.Marshal(audioAppend{Type: "input_audio_buffer.append", Audio: b64})
}

type conversationItem struct {
	Type    string            `json:"type"`
	Role    string            `json:"role"`
	Content []itemContentPart `json:"content"`
}

type itemContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

// NewUserTextItem wraps user text in the conversation.item.create envelope.
func NewUserTextItem(text string) ([]byte, error) {
	return json.Marshal(conversationItemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []itemContentPart{{Type: "input_text", Text: text}},
		},
	})
}
