package rendezvous

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/damianfilipek81/whisper/pkg/topic"
	"github.com/damianfilipek81/whisper/pkg/transport/mem"
)

func startServer(t *testing.T, tr *mem.Transport, addr string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := NewServer(tr)
	go func() { _ = srv.Serve(ctx, addr) }()
	// The mem listener registers synchronously inside Serve; give it a beat.
	require.Eventually(t, func() bool {
		sess, err := tr.Dial(context.Background(), addr)
		if err != nil {
			return false
		}
		_ = sess.Close()
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestAnnounceLookupUnannounce(t *testing.T) {
	tr := mem.New()
	startServer(t, tr, "boot")
	c := NewClient(tr, []string{"boot"}, time.Minute)
	t.Cleanup(c.Close)

	ctx := context.Background()
	top := topic.FromChatID("aa:bb")

	require.NoError(t, c.Announce(ctx, top, "node-1"))
	require.NoError(t, c.Announce(ctx, top, "node-2"))

	addrs, err := c.Lookup(ctx, top)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"node-1", "node-2"}, addrs)

	require.NoError(t, c.Unannounce(ctx, top, "node-1"))
	addrs, err = c.Lookup(ctx, top)
	require.NoError(t, err)
	require.Equal(t, []string{"node-2"}, addrs)
}

func TestLookupIsScopedToTopic(t *testing.T) {
	tr := mem.New()
	startServer(t, tr, "boot")
	c := NewClient(tr, []string{"boot"}, time.Minute)
	t.Cleanup(c.Close)

	ctx := context.Background()
	require.NoError(t, c.Announce(ctx, topic.FromChatID("aa:bb"), "node-1"))
	require.NoError(t, c.Announce(ctx, topic.FromPeerID("aa"), "node-2"))

	addrs, err := c.Lookup(ctx, topic.FromChatID("aa:bb"))
	require.NoError(t, err)
	require.Equal(t, []string{"node-1"}, addrs)
}

func TestLookupMergesServers(t *testing.T) {
	tr := mem.New()
	startServer(t, tr, "boot-a")
	startServer(t, tr, "boot-b")
	top := topic.FromChatID("aa:bb")
	ctx := context.Background()

	// Two clients, each announcing through a single distinct server.
	ca := NewClient(tr, []string{"boot-a"}, time.Minute)
	t.Cleanup(ca.Close)
	cb := NewClient(tr, []string{"boot-b"}, time.Minute)
	t.Cleanup(cb.Close)
	require.NoError(t, ca.Announce(ctx, top, "node-a"))
	require.NoError(t, cb.Announce(ctx, top, "node-b"))

	both := NewClient(tr, []string{"boot-a", "boot-b"}, time.Minute)
	t.Cleanup(both.Close)
	addrs, err := both.Lookup(ctx, top)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"node-a", "node-b"}, addrs)
}

func TestAnnounceSurvivesOneDeadServer(t *testing.T) {
	tr := mem.New()
	startServer(t, tr, "boot")
	c := NewClient(tr, []string{"gone", "boot"}, time.Minute)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	top := topic.FromChatID("aa:bb")
	require.NoError(t, c.Announce(ctx, top, "node-1"))

	addrs, err := c.Lookup(ctx, top)
	require.NoError(t, err)
	require.Equal(t, []string{"node-1"}, addrs)
}

func TestNoServers(t *testing.T) {
	tr := mem.New()
	c := NewClient(tr, nil, time.Minute)
	_, err := c.Lookup(context.Background(), topic.FromChatID("aa:bb"))
	require.Error(t, err)
	require.Error(t, c.Announce(context.Background(), topic.FromChatID("aa:bb"), "x"))
}

func TestRejectsMalformedRequests(t *testing.T) {
	tr := mem.New()
	startServer(t, tr, "boot")
	c := NewClient(tr, []string{"boot"}, time.Minute)
	t.Cleanup(c.Close)

	// A raw exchange with a short topic gets a structured error back instead
	// of tearing the stream down.
	resp, err := c.exchange(context.Background(), "boot", Request{Op: OpAnnounce, Topic: []byte{1, 2}, Addr: "x"})
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.NotEmpty(t, resp.Err)
}
