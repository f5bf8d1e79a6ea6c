package core

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/protocol"
	"github.com/damianfilipek81/whisper/pkg/transport"
)

// connState tracks one raw connection through the arbiter.
type connState int

const (
	connHandshaking connState = iota
	connActive
	connDuplicate
	connClosed
)

// conn is one raw transport session under arbitration. Lifecycle is an
// explicit state machine with a single terminal close transition: whichever
// stream fails first triggers close exactly once, so peer_disconnected can
// never fire twice and duplicates never fire it at all.
type conn struct {
	svc  *Service
	sess transport.Session

	control transport.Stream
	chat    transport.Stream

	mu      sync.Mutex
	state   connState
	peerID  string
	writeMu sync.Mutex

	closeOnce sync.Once
}

// writeChat sends one chat frame. This is the narrow capability handed to the
// message log; the raw session never leaves the arbiter.
func (c *conn) writeChat(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.chat.SendBytes(b)
}

// markDuplicate flags the connection as a dedup loser and closes it. Closing
// a duplicate never emits peer_disconnected: either it was never registered,
// or it was replaced by a connection that is already connected to the same
// peer.
func (c *conn) markDuplicate() {
	c.mu.Lock()
	wasActive := c.state == connActive
	c.state = connDuplicate
	c.mu.Unlock()
	c.svc.metrics.RecordDuplicateConn()
	if wasActive {
		c.svc.metrics.ConnClosed()
	}
	c.close(nil)
}

// close is the single terminal transition. Safe to call from either stream's
// read loop, from dedup arbitration or from teardown; only the first call has
// any effect.
func (c *conn) close(cause error) {
	c.closeOnce.Do(func() {
		_ = c.sess.Close()

		c.mu.Lock()
		wasActive := c.state == connActive
		peerID := c.peerID
		c.state = connClosed
		c.mu.Unlock()

		if !wasActive {
			return
		}
		s := c.svc
		s.mu.Lock()
		if s.conns[peerID] == c {
			delete(s.conns, peerID)
		}
		s.mu.Unlock()
		s.metrics.ConnClosed()

		data := map[string]any{"peerId": peerID}
		if cause != nil {
			data["error"] = cause.Error()
		}
		s.emitter.Emit(EventPeerDisconnected, data)
		zap.L().Info("peer disconnected",
			zap.String("peerId", shortID(peerID)), zap.Error(cause))
	})
}

// handleSession runs the handshake and arbitration for one raw session, then
// serves its chat stream until it closes. One goroutine per session.
func (s *Service) handleSession(ctx context.Context, sess transport.Session) {
	c := &conn{svc: s, sess: sess}

	control, err := sess.OpenStream(ctx, transport.StreamControl)
	if err != nil {
		zap.L().Debug("control stream failed", zap.Error(err))
		_ = sess.Close()
		return
	}
	chat, err := sess.OpenStream(ctx, transport.StreamChat)
	if err != nil {
		zap.L().Debug("chat stream failed", zap.Error(err))
		_ = sess.Close()
		return
	}
	c.control = control
	c.chat = chat

	// Send our hello immediately. Both sides do this without waiting for the
	// other, which rules out a mutual-wait deadlock.
	if err := c.sendHello(); err != nil {
		zap.L().Debug("send hello failed", zap.Error(err))
		c.close(nil)
		return
	}
	remoteID, remoteProfile, err := c.recvHello()
	if err != nil {
		s.metrics.RecordHandshake("failed")
		zap.L().Debug("handshake failed", zap.Error(err))
		c.close(nil)
		return
	}
	if remoteID == s.UserID() {
		// Discovery can hand us our own announce reflected back.
		c.close(nil)
		return
	}
	s.metrics.RecordHandshake("ok")

	// Arbitration. The comparison is the strict inverse on the two peers, so
	// both independently pick the same surviving connection with no extra
	// round-trip: the greater id keeps the connection it accepted, the
	// smaller id keeps the one it dialed. Either way the survivor is the
	// connection dialed by the smaller id, independent of the order the
	// crossing handshakes complete on each side.
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		c.close(nil)
		return
	}
	var loser *conn
	if existing, ok := s.conns[remoteID]; ok && existing != c {
		keepNew := sess.Outbound() == (s.userID < remoteID)
		if keepNew {
			zap.L().Info("replacing existing connection",
				zap.String("peerId", shortID(remoteID)))
			loser = existing
		} else {
			s.mu.Unlock()
			zap.L().Info("dropping redundant connection",
				zap.String("peerId", shortID(remoteID)))
			c.markDuplicate()
			return
		}
	}
	s.conns[remoteID] = c
	s.upsertPeerLocked(remoteID, remoteProfile, time.Now().UnixMilli())
	chatID := s.chatIDFor(remoteID)
	s.getOrCreateChatLocked(chatID, remoteID)
	c.mu.Lock()
	c.peerID = remoteID
	c.state = connActive
	c.mu.Unlock()
	s.mu.Unlock()

	if loser != nil {
		loser.markDuplicate()
	}
	s.saveDebounced()
	s.metrics.ConnOpened()
	s.emitter.Emit(EventPeerConnected, map[string]any{
		"peerId":  remoteID,
		"chatId":  chatID,
		"profile": remoteProfile,
	})
	zap.L().Info("peer connected",
		zap.String("peerId", shortID(remoteID)),
		zap.Bool("outbound", sess.Outbound()))

	go c.controlLoop()
	c.chatLoop()
}

func (c *conn) sendHello() error {
	s := c.svc
	s.mu.Lock()
	keys := s.keys
	profile := s.profile
	userID := s.userID
	s.mu.Unlock()

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	h := protocol.Hello{
		UserID:    userID,
		Profile:   profile,
		PubKey:    keys.Public,
		Nonce:     nonce,
		Timestamp: time.Now().UnixMilli(),
	}
	h.SignWith(keys.Sign)
	b, err := protocol.EncodeHello(h)
	if err != nil {
		return err
	}
	return c.control.SendBytes(b)
}

func (c *conn) recvHello() (string, protocol.UserProfile, error) {
	b, err := c.control.RecvBytes()
	if err != nil {
		return "", nil, err
	}
	h, err := protocol.DecodeHello(b)
	if err != nil {
		return "", nil, err
	}
	uid, err := h.Verify(0)
	if err != nil {
		return "", nil, err
	}
	return uid, h.Profile, nil
}

// controlLoop drains the control stream. Any read is unexpected after the
// handshake; the loop exists to observe the close.
func (c *conn) controlLoop() {
	for {
		if _, err := c.control.RecvBytes(); err != nil {
			c.close(nil)
			return
		}
	}
}

// chatLoop feeds incoming chat frames to the message log until the stream
// closes.
func (c *conn) chatLoop() {
	for {
		b, err := c.chat.RecvBytes()
		if err != nil {
			c.close(nil)
			return
		}
		c.mu.Lock()
		peerID := c.peerID
		c.mu.Unlock()
		c.svc.handleIncoming(peerID, b)
	}
}
