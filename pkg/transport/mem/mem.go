// Package mem is an in-process transport over net.Pipe with a byte-level
// stream mux, used by tests and single-process setups. Frame layout:
// class (u8) | flag (u8) | length (u32 LE) | payload.
package mem

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/damianfilipek81/whisper/pkg/transport"
)

const (
	flagData  = 0
	flagClose = 1
)

// Transport is an in-process transport; listeners are addressed by name.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	l := &listener{name: name, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
	t.listeners[name] = l
	go func() {
		<-ctx.Done()
		_ = l.Close()
		t.mu.Lock()
		delete(t.listeners, name)
		t.mu.Unlock()
	}()
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string) (transport.Session, error) {
	t.mu.Lock()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener: " + name)
	}
	c1, c2 := net.Pipe()
	srv := newSession(c1, false)
	cli := newSession(c2, true)
	select {
	case l.newCh <- srv:
	case <-l.closeCh:
		_ = srv.Close()
		_ = cli.Close()
		return nil, errors.New("mem: listener closed")
	case <-ctx.Done():
		_ = srv.Close()
		_ = cli.Close()
		return nil, ctx.Err()
	}
	return cli, nil
}

type listener struct {
	name    string
	newCh   chan *session
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem: listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type session struct {
	c        net.Conn
	outbound bool

	wm sync.Mutex
	bw *bufio.Writer

	mu      sync.Mutex
	streams map[transport.StreamClass]*stream

	readOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(c net.Conn, outbound bool) *session {
	return &session{
		c:        c,
		outbound: outbound,
		bw:       bufio.NewWriter(c),
		streams:  make(map[transport.StreamClass]*stream),
		done:     make(chan struct{}),
	}
}

func (s *session) Kind() transport.Kind { return transport.KindMem }
func (s *session) LocalAddr() net.Addr  { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }
func (s *session) Outbound() bool       { return s.outbound }

func (s *session) OpenStream(_ context.Context, cls transport.StreamClass) (transport.Stream, error) {
	select {
	case <-s.done:
		return nil, errors.New("mem: session closed")
	default:
	}
	st := s.streamFor(cls)
	s.readOnce.Do(func() { go s.readLoop() })
	return st, nil
}

func (s *session) streamFor(cls transport.StreamClass) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[cls]
	if !ok {
		st = &stream{parent: s, cls: cls, in: make(chan []byte, 64), closed: make(chan struct{})}
		s.streams[cls] = st
	}
	return st
}

func (s *session) readLoop() {
	br := bufio.NewReader(s.c)
	for {
		var hdr [6]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			_ = s.Close()
			return
		}
		cls := transport.StreamClass(hdr[0])
		flag := hdr[1]
		n := int(binary.LittleEndian.Uint32(hdr[2:]))
		if n > transport.MaxFrameSize {
			_ = s.Close()
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			_ = s.Close()
			return
		}
		st := s.streamFor(cls)
		if flag == flagClose {
			st.markClosed()
			continue
		}
		select {
		case st.in <- buf:
		case <-st.closed:
		case <-s.done:
			return
		}
	}
}

func (s *session) writeFrame(cls transport.StreamClass, flag byte, b []byte) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	var hdr [6]byte
	hdr[0] = byte(cls)
	hdr[1] = flag
	binary.LittleEndian.PutUint32(hdr[2:], uint32(len(b)))
	if _, err := s.bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	return s.bw.Flush()
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		for _, st := range s.streams {
			st.markClosed()
		}
		s.mu.Unlock()
	})
	return s.c.Close()
}

type stream struct {
	parent *session
	cls    transport.StreamClass
	in     chan []byte

	once   sync.Once
	closed chan struct{}
}

func (st *stream) markClosed() {
	st.once.Do(func() { close(st.closed) })
}

func (st *stream) SendBytes(b []byte) error {
	if len(b) > transport.MaxFrameSize {
		return errors.New("mem: frame too large")
	}
	select {
	case <-st.closed:
		return errors.New("mem: stream closed")
	default:
	}
	return st.parent.writeFrame(st.cls, flagData, b)
}

func (st *stream) RecvBytes() ([]byte, error) {
	// Drain buffered frames before reporting close.
	select {
	case b := <-st.in:
		return b, nil
	default:
	}
	select {
	case b := <-st.in:
		return b, nil
	case <-st.closed:
		return nil, io.EOF
	case <-st.parent.done:
		return nil, io.EOF
	}
}

// Close signals end-of-stream to the remote end; the session stays usable for
// other classes.
func (st *stream) Close() error {
	err := st.parent.writeFrame(st.cls, flagClose, nil)
	st.markClosed()
	return err
}
