package mem

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/damianfilipek81/whisper/pkg/transport"
)

func pair(t *testing.T) (transport.Session, transport.Session) {
	t.Helper()
	tr := New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ln, err := tr.Listen(ctx, "node-a")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dialed := make(chan transport.Session, 1)
	go func() {
		s, err := tr.Dial(ctx, "node-a")
		if err == nil {
			dialed <- s
		}
	}()
	accepted, err := ln.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	select {
	case cli := <-dialed:
		return cli, accepted
	case <-time.After(time.Second):
		t.Fatalf("dial never completed")
		return nil, nil
	}
}

func TestStreamsPerClassIndependent(t *testing.T) {
	cli, srv := pair(t)
	ctx := context.Background()

	cliCtrl, _ := cli.OpenStream(ctx, transport.StreamControl)
	cliChat, _ := cli.OpenStream(ctx, transport.StreamChat)
	srvCtrl, _ := srv.OpenStream(ctx, transport.StreamControl)
	srvChat, _ := srv.OpenStream(ctx, transport.StreamChat)

	if err := cliCtrl.SendBytes([]byte("hello")); err != nil {
		t.Fatalf("send control: %v", err)
	}
	if err := cliChat.SendBytes([]byte("msg")); err != nil {
		t.Fatalf("send chat: %v", err)
	}

	// Chat frame must not surface on the control stream.
	b, err := srvChat.RecvBytes()
	if err != nil || string(b) != "msg" {
		t.Fatalf("chat recv: %q %v", b, err)
	}
	b, err = srvCtrl.RecvBytes()
	if err != nil || string(b) != "hello" {
		t.Fatalf("control recv: %q %v", b, err)
	}
	if !cli.Outbound() || srv.Outbound() {
		t.Fatalf("outbound flags wrong")
	}
}

func TestStreamClosePropagates(t *testing.T) {
	cli, srv := pair(t)
	ctx := context.Background()

	cliCtrl, _ := cli.OpenStream(ctx, transport.StreamControl)
	srvCtrl, _ := srv.OpenStream(ctx, transport.StreamControl)

	_ = cliCtrl.SendBytes([]byte("one"))
	_ = cliCtrl.Close()

	if b, err := srvCtrl.RecvBytes(); err != nil || string(b) != "one" {
		t.Fatalf("buffered frame lost: %q %v", b, err)
	}
	if _, err := srvCtrl.RecvBytes(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after remote close, got %v", err)
	}
}

func TestSessionCloseUnblocksReaders(t *testing.T) {
	cli, srv := pair(t)
	ctx := context.Background()
	srvChat, _ := srv.OpenStream(ctx, transport.StreamChat)
	_, _ = cli.OpenStream(ctx, transport.StreamChat)

	errCh := make(chan error, 1)
	go func() {
		_, err := srvChat.RecvBytes()
		errCh <- err
	}()
	_ = cli.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("reader not unblocked by session close")
	}
}

func TestDialUnknownListener(t *testing.T) {
	tr := New()
	if _, err := tr.Dial(context.Background(), "nobody"); err == nil {
		t.Fatalf("expected dial error")
	}
}
