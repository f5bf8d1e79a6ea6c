package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/damianfilipek81/whisper/pkg/topic"
	"github.com/damianfilipek81/whisper/pkg/transport/mem"
)

func newTestSwarm(t *testing.T, tr *mem.Transport, dir Directory, name string) *Swarm {
	t.Helper()
	s := New(tr, dir, Config{
		ListenAddr:       name,
		AnnounceInterval: 20 * time.Millisecond,
		DialTimeout:      time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Close)
	return s
}

func TestJoinIdempotent(t *testing.T) {
	tr := mem.New()
	dir := NewMemDirectory(0)
	s := newTestSwarm(t, tr, dir, "a")

	ctx := context.Background()
	d1, err := s.JoinChat(ctx, "aa:bb")
	require.NoError(t, err)
	d2, err := s.JoinChat(ctx, "aa:bb")
	require.NoError(t, err)
	require.Same(t, d1, d2, "second join must return the existing handle")

	inv1, err := s.JoinInvite(ctx, "peer-1")
	require.NoError(t, err)
	inv2, err := s.JoinInvite(ctx, "peer-1")
	require.NoError(t, err)
	require.Same(t, inv1, inv2)
	require.NotEqual(t, d1.Topic(), inv1.Topic())
}

func TestJoinFlushAnnounces(t *testing.T) {
	tr := mem.New()
	dir := NewMemDirectory(0)
	s := newTestSwarm(t, tr, dir, "a")

	d, err := s.JoinChat(context.Background(), "aa:bb")
	require.NoError(t, err)
	// Flushed has returned, so the announce must already be visible.
	addrs, err := dir.Lookup(context.Background(), topic.FromChatID("aa:bb"))
	require.NoError(t, err)
	require.Contains(t, addrs, s.AnnounceAddr())
	_ = d
}

func TestTwoSwarmsDiscoverEachOther(t *testing.T) {
	tr := mem.New()
	dir := NewMemDirectory(0)
	a := newTestSwarm(t, tr, dir, "a")
	b := newTestSwarm(t, tr, dir, "b")

	ctx := context.Background()
	_, err := a.JoinChat(ctx, "aa:bb")
	require.NoError(t, err)
	_, err = b.JoinChat(ctx, "aa:bb")
	require.NoError(t, err)

	// Each side ends up with a raw session: one dialed, one accepted. Both
	// may also dial each other simultaneously — resolving that is the
	// arbiter's job, not the swarm's.
	select {
	case <-a.Sessions():
	case <-time.After(2 * time.Second):
		t.Fatalf("no session surfaced on a")
	}
	select {
	case <-b.Sessions():
	case <-time.After(2 * time.Second):
		t.Fatalf("no session surfaced on b")
	}
}

func TestLeaveAllClearsHandles(t *testing.T) {
	tr := mem.New()
	dir := NewMemDirectory(0)
	s := newTestSwarm(t, tr, dir, "a")

	ctx := context.Background()
	d1, err := s.JoinChat(ctx, "aa:bb")
	require.NoError(t, err)
	s.LeaveAll()

	// The announce was withdrawn.
	addrs, _ := dir.Lookup(ctx, topic.FromChatID("aa:bb"))
	require.NotContains(t, addrs, s.AnnounceAddr())

	// A fresh join creates a new handle.
	d2, err := s.JoinChat(ctx, "aa:bb")
	require.NoError(t, err)
	require.NotSame(t, d1, d2)
}
