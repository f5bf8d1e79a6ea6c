package identity

import (
	"testing"

	"github.com/damianfilipek81/whisper/pkg/storage"
)

func TestLoadOrCreateIdempotent(t *testing.T) {
	root, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	local, _ := root.Local("local")

	kp1, id1, err := LoadOrCreate(local)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	kp2, id2, err := LoadOrCreate(local)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("identity changed across loads: %s vs %s", id1, id2)
	}
	if string(kp1.Public) != string(kp2.Public) {
		t.Fatalf("public key changed across loads")
	}
	if len(id1) != 64 {
		t.Fatalf("user id is not hex of a 32-byte key: %q", id1)
	}
}

func TestSignVerify(t *testing.T) {
	root, _ := storage.Open(t.TempDir())
	local, _ := root.Local("local")
	kp, _, err := LoadOrCreate(local)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	msg := []byte("hello")
	sig := kp.Sign(msg)
	if !Verify(kp.Public, msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify(kp.Public, []byte("tampered"), sig) {
		t.Fatalf("signature verified tampered data")
	}
}

func TestParseUserID(t *testing.T) {
	root, _ := storage.Open(t.TempDir())
	local, _ := root.Local("local")
	kp, id, _ := LoadOrCreate(local)

	raw, err := ParseUserID(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(raw) != string(kp.Public) {
		t.Fatalf("parsed key mismatch")
	}
	if _, err := ParseUserID("zzzz"); err == nil {
		t.Fatalf("expected error for non-hex id")
	}
	if _, err := ParseUserID("abcd"); err == nil {
		t.Fatalf("expected error for short id")
	}
}
