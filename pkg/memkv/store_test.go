package memkv

import (
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("k1", []byte("abc"), 0)
	v, ok := s.Get("k1")
	if !ok || string(v) != "abc" {
		t.Fatalf("Get mismatch: ok=%v v=%q", ok, v)
	}
	// Returned slice is a copy; mutating it must not affect the store.
	v[0] = 'X'
	v2, _ := s.Get("k1")
	if string(v2) != "abc" {
		t.Fatalf("stored value mutated through Get copy")
	}

	s.Delete("k1")
	if _, ok := s.Get("k1"); ok {
		t.Fatalf("key survived Delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(Options{SweepInterval: 10 * time.Millisecond})
	defer s.Close()

	now := time.Now()
	s.nowFn = func() time.Time { return now }
	s.Set("k", []byte("v"), 50*time.Millisecond)

	if _, ok := s.Get("k"); !ok {
		t.Fatalf("fresh key reported expired")
	}
	now = now.Add(100 * time.Millisecond)
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expired key still visible")
	}
}

func TestUpdateAndRange(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Update("counter", func(old []byte) []byte {
		if old == nil {
			return []byte{1}
		}
		return []byte{old[0] + 1}
	})
	s.Update("counter", func(old []byte) []byte { return []byte{old[0] + 1} })
	v, _ := s.Get("counter")
	if v[0] != 2 {
		t.Fatalf("update result = %d, want 2", v[0])
	}

	s.Set("other", []byte("x"), 0)
	seen := map[string]bool{}
	s.Range(func(k string, _ []byte) bool {
		seen[k] = true
		return true
	})
	if !seen["counter"] || !seen["other"] || s.Len() != 2 {
		t.Fatalf("range/len mismatch: %v len=%d", seen, s.Len())
	}
}

func TestExpireResetsTTL(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	now := time.Now()
	s.nowFn = func() time.Time { return now }
	s.Set("k", []byte("v"), 10*time.Millisecond)
	s.Expire("k", time.Hour)
	now = now.Add(time.Minute)
	if _, ok := s.Get("k"); !ok {
		t.Fatalf("Expire did not extend TTL")
	}
}
