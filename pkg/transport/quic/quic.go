// Package quic implements the whisper transport over QUIC with one native
// bidirectional stream per stream class, length-prefixed frames on each.
package quic

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/damianfilipek81/whisper/pkg/transport"
)

const alpn = "whisper/2"

// Transport dials and listens for QUIC sessions. The TLS layer uses an
// ephemeral self-signed certificate; peer identity is established by the
// signed application-layer handshake, not by the certificate chain.
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

// New builds a QUIC transport with a fresh ephemeral server certificate.
func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("quic: generate cert: %w", err)
	}
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{
			MaxIdleTimeout:  45 * time.Second,
			KeepAlivePeriod: 15 * time.Second,
		},
	}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("quic: listen %s: %w", address, err)
	}
	ln := &listener{l: l}
	go func() { <-ctx.Done(); _ = ln.Close() }()
	return ln, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Session, error) {
	tlsClient := &tls.Config{
		// Identity is verified by the signed hello at the application layer.
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("quic: dial %s: %w", address, err)
	}
	return newSession(c, true), nil
}

type listener struct {
	l *quicgo.Listener
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
	c, err := l.l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return newSession(c, false), nil
}

func (l *listener) Close() error { return l.l.Close() }

type session struct {
	conn     quicgo.Connection
	outbound bool

	mu      sync.Mutex
	streams map[transport.StreamClass]*stream
	pending map[transport.StreamClass]chan quicgo.Stream

	acceptOnce sync.Once
	done       chan struct{}
	closeOnce  sync.Once
}

func newSession(c quicgo.Connection, outbound bool) *session {
	return &session{
		conn:     c,
		outbound: outbound,
		streams:  make(map[transport.StreamClass]*stream),
		pending:  make(map[transport.StreamClass]chan quicgo.Stream),
		done:     make(chan struct{}),
	}
}

func (s *session) Kind() transport.Kind { return transport.KindQUIC }
func (s *session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *session) Outbound() bool       { return s.outbound }

// OpenStream opens (dialer) or awaits (acceptor) the stream of the given
// class. A one-byte class header on the wire pairs the two ends.
func (s *session) OpenStream(ctx context.Context, cls transport.StreamClass) (transport.Stream, error) {
	s.mu.Lock()
	if st, ok := s.streams[cls]; ok {
		s.mu.Unlock()
		return st, nil
	}
	if s.outbound {
		s.mu.Unlock()
		qs, err := s.conn.OpenStreamSync(ctx)
		if err != nil {
			return nil, fmt.Errorf("quic: open %s stream: %w", cls, err)
		}
		if _, err := qs.Write([]byte{byte(cls)}); err != nil {
			qs.CancelRead(0)
			_ = qs.Close()
			return nil, fmt.Errorf("quic: open %s stream: %w", cls, err)
		}
		st := &stream{qs: qs}
		s.mu.Lock()
		s.streams[cls] = st
		s.mu.Unlock()
		return st, nil
	}
	ch := s.pendingLocked(cls)
	s.mu.Unlock()
	s.acceptOnce.Do(func() { go s.acceptLoop() })

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("quic: session closed")
	case qs := <-ch:
		st := &stream{qs: qs}
		s.mu.Lock()
		s.streams[cls] = st
		s.mu.Unlock()
		return st, nil
	}
}

func (s *session) pendingLocked(cls transport.StreamClass) chan quicgo.Stream {
	ch, ok := s.pending[cls]
	if !ok {
		ch = make(chan quicgo.Stream, 1)
		s.pending[cls] = ch
	}
	return ch
}

func (s *session) acceptLoop() {
	for {
		qs, err := s.conn.AcceptStream(context.Background())
		if err != nil {
			s.closeOnce.Do(func() { close(s.done) })
			return
		}
		var hdr [1]byte
		if _, err := io.ReadFull(qs, hdr[:]); err != nil {
			qs.CancelRead(0)
			_ = qs.Close()
			continue
		}
		cls := transport.StreamClass(hdr[0])
		s.mu.Lock()
		ch := s.pendingLocked(cls)
		s.mu.Unlock()
		select {
		case ch <- qs:
		default:
			// Unexpected second stream of the same class.
			qs.CancelRead(0)
			_ = qs.Close()
		}
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.CloseWithError(0, "closed")
}

// stream frames: u32 little-endian length prefix.
type stream struct {
	qs quicgo.Stream
	wm sync.Mutex
}

func (st *stream) SendBytes(b []byte) error {
	if len(b) > transport.MaxFrameSize {
		return errors.New("quic: frame too large")
	}
	st.wm.Lock()
	defer st.wm.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := st.qs.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err := st.qs.Write(b)
	return err
}

func (st *stream) RecvBytes() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(st.qs, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > transport.MaxFrameSize {
		return nil, errors.New("quic: invalid frame size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(st.qs, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (st *stream) Close() error {
	st.qs.CancelRead(0)
	return st.qs.Close()
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "whisper"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
