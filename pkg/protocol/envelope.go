package protocol

import (
	"encoding/json"
	"fmt"
)

// Stream protocol identifiers, versioned independently of the app.
const (
	ControlProtocol = "whisper/control/2"
	ChatProtocol    = "whisper/chat/2"
)

// Envelope type tags carried in the "t" field of chat-channel frames.
const (
	EnvelopeMsg = "msg"
)

// Envelope is one chat-channel frame. Frames with an unknown tag are ignored
// by receivers, which leaves room for future frame types without a version
// bump.
type Envelope struct {
	T       string   `json:"t"`
	Message *Message `json:"message,omitempty"`
}

// EncodeMessage wraps a message in a msg envelope and serializes it.
func EncodeMessage(m Message) ([]byte, error) {
	b, err := json.Marshal(Envelope{T: EnvelopeMsg, Message: &m})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses a chat-channel frame.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return e, nil
}
