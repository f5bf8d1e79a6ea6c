package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/damianfilipek81/whisper/pkg/protocol/codec"
)

// Hello is the one-time control-channel handshake. It binds the claimed
// userId to its public key with a fresh signed nonce, so a transport peer
// cannot impersonate another user even though the TLS layer uses ephemeral
// self-signed certificates.
type Hello struct {
	UserID    string      `json:"userId"`
	Profile   UserProfile `json:"profile,omitempty"`
	PubKey    []byte      `json:"pubkey"`
	Nonce     []byte      `json:"nonce"`
	Timestamp int64       `json:"ts_unix_ms"`
	Sig       []byte      `json:"sig"`
}

var helloCodec = codec.MustCBOR()

// HelloTranscript builds the canonical transcript signed by a Hello. Format:
//
//	whisper:hello|v=2|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>
func HelloTranscript(pub, nonce []byte, tsUnixMS int64) []byte {
	b64 := base64.RawURLEncoding
	var sb strings.Builder
	sb.Grow(96)
	sb.WriteString("whisper:hello|v=2|ts=")
	sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
	sb.WriteString("|pub=")
	sb.WriteString(b64.EncodeToString(pub))
	sb.WriteString("|nonce=")
	sb.WriteString(b64.EncodeToString(nonce))
	return []byte(sb.String())
}

// SignWith fills the signature over the transcript of h.
func (h *Hello) SignWith(sign func([]byte) []byte) {
	h.Sig = sign(HelloTranscript(h.PubKey, h.Nonce, h.Timestamp))
}

// Verify checks key shape, signature and freshness, and that the claimed
// userId is the hex encoding of the public key. Returns the verified userId.
func (h Hello) Verify(maxSkew time.Duration) (string, error) {
	if len(h.PubKey) != ed25519.PublicKeySize {
		return "", errors.New("hello: bad pubkey length")
	}
	if len(h.Sig) != ed25519.SignatureSize {
		return "", errors.New("hello: bad signature length")
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	if dt := time.Now().UnixMilli() - h.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
		return "", errors.New("hello: timestamp out of bounds")
	}
	if !ed25519.Verify(ed25519.PublicKey(h.PubKey), HelloTranscript(h.PubKey, h.Nonce, h.Timestamp), h.Sig) {
		return "", errors.New("hello: signature invalid")
	}
	uid := hex.EncodeToString(h.PubKey)
	if h.UserID != "" && h.UserID != uid {
		return "", errors.New("hello: userId does not match pubkey")
	}
	return uid, nil
}

// EncodeHello serializes a Hello for the control channel.
func EncodeHello(h Hello) ([]byte, error) {
	b, err := helloCodec.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode hello: %w", err)
	}
	return b, nil
}

// DecodeHello parses a control-channel handshake frame.
func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	if err := helloCodec.Unmarshal(b, &h); err != nil {
		return Hello{}, fmt.Errorf("protocol: decode hello: %w", err)
	}
	return h, nil
}
