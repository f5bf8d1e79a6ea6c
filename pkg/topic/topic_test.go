package topic

import (
	"bytes"
	"testing"
)

func TestDeriveChatIDSymmetry(t *testing.T) {
	cases := []struct{ a, b, want string }{
		{"aa", "bb", "aa:bb"},
		{"bb", "aa", "aa:bb"},
		{"0011", "00ff", "0011:00ff"},
		{"deadbeef", "deadbeef", "deadbeef:deadbeef"},
	}
	for _, c := range cases {
		if got := DeriveChatID(c.a, c.b); got != c.want {
			t.Fatalf("DeriveChatID(%q,%q) = %q, want %q", c.a, c.b, got, c.want)
		}
		if DeriveChatID(c.a, c.b) != DeriveChatID(c.b, c.a) {
			t.Fatalf("DeriveChatID not symmetric for %q/%q", c.a, c.b)
		}
	}
}

func TestTopicDeterminism(t *testing.T) {
	t1 := FromChatID("aa:bb")
	t2 := FromChatID("aa:bb")
	if !bytes.Equal(t1[:], t2[:]) {
		t.Fatalf("FromChatID not deterministic")
	}
	if len(t1) != Size {
		t.Fatalf("topic size = %d, want %d", len(t1), Size)
	}
}

func TestTopicNamespacesDiffer(t *testing.T) {
	// A chat topic for string X must not collide with an invite topic for X.
	chat := FromChatID("cafe")
	invite := FromPeerID("cafe")
	if bytes.Equal(chat[:], invite[:]) {
		t.Fatalf("chat and invite topics collide")
	}
	// Distinct inputs yield distinct topics.
	if FromChatID("aa:bb") == FromChatID("aa:bc") {
		t.Fatalf("distinct chat ids hashed to the same topic")
	}
}
