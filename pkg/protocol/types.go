// Package protocol defines the shared wire and persistence types of the chat
// core: user profiles, peers, chats, messages, the chat-channel envelope and
// the control-channel handshake. These types are the contract between two
// nodes and between the core and its host UI; field names are fixed.
package protocol

// UserProfile carries display metadata for a user. Beyond name/createdAt the
// fields are opaque to the core and round-trip untouched.
type UserProfile map[string]any

// Merge returns a copy of p overlaid with the fields of other.
func (p UserProfile) Merge(other UserProfile) UserProfile {
	out := make(UserProfile, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Peer is a persisted record of a known remote user. Created on first
// contact, updated on every successful handshake, deleted only on full reset.
type Peer struct {
	PeerID   string      `json:"peerId"`
	LastSeen int64       `json:"lastSeen"`
	Profile  UserProfile `json:"profile,omitempty"`
}

// Message types.
const (
	MessageTypeText  = "text"
	MessageTypeVoice = "voice"
)

// Message statuses. StatusDelivered is part of the wire contract but no code
// path sets it; it is reserved for a future acknowledgement protocol.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
)

// Message is one chat message. The id is client-generated and globally
// unique; it is the sole deduplication key for incoming messages.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`

	// Voice message metadata (optional).
	AudioData     string  `json:"audioData,omitempty"`
	Transcription string  `json:"transcription,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
}

// Chat is the persisted shape of a conversation: the canonical pair id, the
// remote participant and the append-only message history. Connection status
// is deliberately absent — ephemeral state must never be persisted.
type Chat struct {
	ID       string    `json:"id"`
	PeerID   string    `json:"peerId"`
	Messages []Message `json:"messages"`
}

// ChatWithStatus is the host-facing view of a chat, enriched with the live
// connection flag and the peer's profile.
type ChatWithStatus struct {
	Chat
	PeerConnected bool        `json:"peerConnected"`
	PeerProfile   UserProfile `json:"peerProfile,omitempty"`
}
