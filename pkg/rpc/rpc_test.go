package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/damianfilipek81/whisper/pkg/core"
	"github.com/damianfilipek81/whisper/pkg/swarm"
	"github.com/damianfilipek81/whisper/pkg/transport/mem"
)

func startTestServer(t *testing.T) (*core.Service, string) {
	t.Helper()
	svc := core.New(core.Options{
		Transport: mem.New(),
		Directory: swarm.NewMemDirectory(0),
		Swarm:     swarm.Config{ListenAddr: "rpc-test-node"},
	})
	t.Cleanup(func() { _ = svc.Destroy(context.Background()) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := NewServer(svc)
	go func() { _ = srv.Serve(ctx, ln) }()
	return svc, ln.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	_, addr := startTestServer(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Call(core.CmdInit, map[string]any{"storagePath": t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, true, resp["success"])
	require.NotEmpty(t, resp["userId"])

	resp, err = c.Call(core.CmdGetUserProfile, nil)
	require.NoError(t, err)
	require.Equal(t, true, resp["success"])
}

func TestErrorsStayStructured(t *testing.T) {
	_, addr := startTestServer(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Call(core.CmdSendMessage, map[string]any{"chatId": "x", "text": "hi"})
	require.NoError(t, err)
	require.Equal(t, false, resp["success"])
	require.NotEmpty(t, resp["error"])
}

func TestEventsArePushed(t *testing.T) {
	svc, addr := startTestServer(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	// Make sure the event subscription is in place before emitting.
	_, err = c.Call(core.CmdGetKnownPeers, nil)
	require.NoError(t, err)

	svc.Events().Emit(core.EventError, map[string]any{"error": "synthetic"})

	select {
	case ev := <-c.Events():
		require.Equal(t, core.EventError, ev["event"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event pushed")
	}
}

func TestConcurrentCalls(t *testing.T) {
	_, addr := startTestServer(t)
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(core.CmdInit, map[string]any{"storagePath": t.TempDir()})
	require.NoError(t, err)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := c.Call(core.CmdGetActiveChats, nil)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}
