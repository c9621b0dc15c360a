// Package wire defines the JSON envelope exchanged between browser clients
// and the relay. The envelope is deliberately small: a type discriminator and
// a payload string. Audio payloads are base64 PCM16LE; text payloads are
// UTF-8; control payloads carry a control code.
package wire

import "github.com/bytedance/sonic"

// Message types.
const (
	TypeAudio   = "audio"
	TypeText    = "text"
	TypeControl = "control"
	TypeError   = "error"
)

// Control payload values.
const (
	ControlBargeIn = "barge_in"
)

// Message is the client <-> relay envelope.
type Message struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewAudioMessage wraps base64 PCM data.
func NewAudioMessage(data string) Message {
	return Message{Type: TypeAudio, Data: data}
}

// NewTextMessage wraps a text payload.
func NewTextMessage(text string) Message {
	return Message{Type: TypeText, Data: text}
}

// NewControlMessage wraps a control code.
func NewControlMessage(code string) Message {
	return Message{Type: TypeControl, Data: code}
}

// NewErrorMessage wraps an error description.
func NewErrorMessage(msg string) Message {
	return Message{Type: TypeError, Error: msg}
}

// Encode marshals a message for the socket. Audio frames dominate the
// traffic, so the codec sits on sonic rather than encoding/json.
func Encode(m Message) ([]byte, error) {
	return sonic.Marshal(m)
}

// Decode unmarshals a message from the socket.
func Decode(data []byte) (Message, error) {
	var m Message
	err := sonic.Unmarshal(data, &m)
	return m, err
}
