// Package transport defines the connection interfaces of the whisper core and
// hosts its concrete implementations (quic, mem).
//
// A Session is one raw connection to a remote node carrying exactly two
// multiplexed streams: the control stream (one-time identity handshake) and
// the chat stream (message frames). Sessions are exclusively owned by the
// connection arbiter; other components only ever receive narrow write
// capabilities derived from a stream.
package transport

import (
	"context"
	"net"
)

// Kind identifies the transport/link type.
type Kind int

const (
	KindUnknown Kind = iota
	KindQUIC
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// StreamClass labels the multiplexed streams within a session.
type StreamClass int

const (
	StreamControl StreamClass = iota
	StreamChat
)

func (c StreamClass) String() string {
	switch c {
	case StreamControl:
		return "control"
	case StreamChat:
		return "chat"
	default:
		return "unknown"
	}
}

// MaxFrameSize bounds a single stream frame.
const MaxFrameSize = 1 << 24

// Stream is a bidirectional frame stream. Exactly one reader goroutine is
// expected; SendBytes is safe for concurrent use.
type Stream interface {
	SendBytes([]byte) error
	RecvBytes() ([]byte, error)
	Close() error
}

// Session is one raw connection. OpenStream returns the single bidirectional
// stream of the given class: the dialing side opens it eagerly, the accepting
// side awaits the remote open, and both ends observe the same logical stream.
type Session interface {
	Kind() Kind
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// Outbound reports whether the local side dialed this session.
	Outbound() bool
	OpenStream(ctx context.Context, cls StreamClass) (Stream, error)
	Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
	// Accept blocks until an inbound session is available or ctx is done.
	Accept(ctx context.Context) (Session, error)
	Addr() net.Addr
	Close() error
}

// Transport dials and listens for sessions of a specific kind.
type Transport interface {
	Kind() Kind
	Listen(ctx context.Context, address string) (Listener, error)
	Dial(ctx context.Context, address string) (Session, error)
}
