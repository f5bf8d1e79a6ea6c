// Package codec provides the serialization codecs used on whisper wire
// protocols: JSON for host-facing and chat-channel payloads, CBOR for the
// compact control and rendezvous frames.
package codec

// Codec marshals typed messages deterministically for cross-node exchange.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
