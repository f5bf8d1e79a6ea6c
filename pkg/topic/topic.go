// Package topic derives rendezvous topics and canonical chat identifiers.
//
// Both participants of a chat must compute identical topics without any
// negotiation round-trip, so every function here is a pure function of its
// inputs.
package topic

import (
	"golang.org/x/crypto/blake2b"
)

// Size is the fixed topic length used on the discovery network.
const Size = 32

// Topic is a fixed-size rendezvous address. Peers that join the same topic
// can discover each other.
type Topic [Size]byte

const invitePrefix = "invite:"

// FromChatID hashes a chat id into its rendezvous topic.
func FromChatID(chatID string) Topic {
	return hash([]byte(chatID))
}

// FromPeerID hashes a peer id into that peer's invite topic. The invite
// namespace is kept distinct from chat topics so that announcing an invite
// never collides with an existing chat.
func FromPeerID(peerID string) Topic {
	return hash([]byte(invitePrefix + peerID))
}

// DeriveChatID returns the canonical chat id for a pair of user ids: the two
// hex ids joined by ':' with the lexicographically smaller id first. Both
// directions of the relationship collapse to the same id regardless of who
// initiates.
func DeriveChatID(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}

func hash(in []byte) Topic {
	return Topic(blake2b.Sum256(in))
}
