// Package identity manages the node's long-lived signing keypair.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/storage"
)

// Storage keys for the raw keypair bytes.
const (
	KeyPub = "pub"
	KeySec = "sec"
)

// KeyPair holds the node's ed25519 identity keys.
type KeyPair struct {
	Public ed25519.PublicKey
	Secret ed25519.PrivateKey
}

// UserID returns the canonical user id: hex of the public key.
func (kp KeyPair) UserID() string {
	return hex.EncodeToString(kp.Public)
}

// Sign signs data with the secret key.
func (kp KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(kp.Secret, data)
}

// Verify checks sig over data against a raw 32-byte public key.
func Verify(pub []byte, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// LoadOrCreate reads the keypair blobs from the local store, generating and
// persisting a fresh keypair when either blob is absent. The same store always
// yields the same identity across restarts. A store failure is fatal: without
// an identity there is no service.
func LoadOrCreate(local *storage.Local) (KeyPair, string, error) {
	pub, err := local.Get(KeyPub)
	if err != nil {
		return KeyPair{}, "", fmt.Errorf("identity: load public key: %w", err)
	}
	sec, err := local.Get(KeySec)
	if err != nil {
		return KeyPair{}, "", fmt.Errorf("identity: load secret key: %w", err)
	}

	if len(pub) == ed25519.PublicKeySize && len(sec) == ed25519.PrivateKeySize {
		kp := KeyPair{Public: ed25519.PublicKey(pub), Secret: ed25519.PrivateKey(sec)}
		return kp, kp.UserID(), nil
	}

	genPub, genSec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, "", fmt.Errorf("identity: generate keypair: %w", err)
	}
	if err := local.Put(KeyPub, genPub); err != nil {
		return KeyPair{}, "", fmt.Errorf("identity: persist public key: %w", err)
	}
	if err := local.Put(KeySec, genSec); err != nil {
		return KeyPair{}, "", fmt.Errorf("identity: persist secret key: %w", err)
	}
	kp := KeyPair{Public: genPub, Secret: genSec}
	uid := kp.UserID()
	zap.L().Info("generated new identity", zap.String("userId", short(uid)))
	return kp, uid, nil
}

// ParseUserID validates a hex user id and returns the raw public key bytes.
func ParseUserID(userID string) ([]byte, error) {
	raw, err := hex.DecodeString(userID)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid user id: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("identity: user id must be a 32-byte hex public key")
	}
	return raw, nil
}

func short(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
