// Package swarm implements the discovery manager: joining and leaving
// rendezvous topics, tracking live discovery handles and surfacing raw
// sessions (inbound and dial-out) on a single stream toward the connection
// arbiter.
package swarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/topic"
	"github.com/damianfilipek81/whisper/pkg/transport"
)

// Config tunes a Swarm.
type Config struct {
	// ListenAddr is the transport address to accept sessions on.
	ListenAddr string
	// AnnounceAddr is the externally reachable address written to the
	// directory. Defaults to the listener's address.
	AnnounceAddr string
	// AnnounceInterval is the period of the per-topic refresh loop.
	AnnounceInterval time.Duration
	// AnnounceTTL is the registration lifetime requested from the directory.
	AnnounceTTL time.Duration
	// DialTimeout bounds one dial attempt to a discovered address.
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = 30 * time.Second
	}
	if c.AnnounceTTL <= 0 {
		c.AnnounceTTL = 90 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Swarm owns the topic subscriptions of one node.
type Swarm struct {
	tr  transport.Transport
	dir Directory
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	invites      map[string]*Discovery // peerId -> handle
	chats        map[string]*Discovery // chatId -> handle
	recentDials  map[string]time.Time
	ln           transport.Listener
	announceAddr string
	started      bool

	sessions chan transport.Session
}

// New builds a swarm over the given transport and directory.
func New(tr transport.Transport, dir Directory, cfg Config) *Swarm {
	return &Swarm{
		tr:          tr,
		dir:         dir,
		cfg:         cfg.withDefaults(),
		invites:     make(map[string]*Discovery),
		chats:       make(map[string]*Discovery),
		recentDials: make(map[string]time.Time),
		sessions:    make(chan transport.Session, 16),
	}
}

// Start begins listening for inbound sessions. It must be called before any
// join.
func (s *Swarm) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	ln, err := s.tr.Listen(s.ctx, s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.announceAddr = s.cfg.AnnounceAddr
	if s.announceAddr == "" {
		s.announceAddr = ln.Addr().String()
	}
	s.started = true
	go s.acceptLoop()
	zap.L().Info("swarm listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("announce", s.announceAddr))
	return nil
}

// Sessions delivers every raw session, inbound and outbound alike. The
// consumer owns each delivered session.
func (s *Swarm) Sessions() <-chan transport.Session { return s.sessions }

// AnnounceAddr returns the address this swarm writes to the directory.
func (s *Swarm) AnnounceAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announceAddr
}

// JoinInvite joins the invite topic of peerID. Idempotent: an existing handle
// is returned unchanged without extra announce traffic.
func (s *Swarm) JoinInvite(ctx context.Context, peerID string) (*Discovery, error) {
	return s.join(ctx, s.invites, peerID, topic.FromPeerID(peerID))
}

// JoinChat joins the chat topic of chatID. Idempotent like JoinInvite.
func (s *Swarm) JoinChat(ctx context.Context, chatID string) (*Discovery, error) {
	return s.join(ctx, s.chats, chatID, topic.FromChatID(chatID))
}

func (s *Swarm) join(ctx context.Context, handles map[string]*Discovery, key string, t topic.Topic) (*Discovery, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, errors.New("swarm: not started")
	}
	if d, ok := handles[key]; ok {
		s.mu.Unlock()
		zap.L().Debug("already joined topic", zap.String("key", short(key)))
		return d, nil
	}
	dctx, dcancel := context.WithCancel(s.ctx)
	d := &Discovery{
		key:     key,
		topic:   t,
		sw:      s,
		ctx:     dctx,
		cancel:  dcancel,
		flushed: make(chan struct{}),
	}
	// Store the handle before awaiting the flush so a concurrent join of the
	// same key cannot announce twice.
	handles[key] = d
	s.mu.Unlock()

	zap.L().Info("joining topic", zap.String("key", short(key)))
	go d.run()
	if err := d.Flushed(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// LeaveAll destroys every tracked handle, swallowing individual failures, and
// clears the tracking maps.
func (s *Swarm) LeaveAll() {
	s.mu.Lock()
	all := make([]*Discovery, 0, len(s.invites)+len(s.chats))
	for _, d := range s.invites {
		all = append(all, d)
	}
	for _, d := range s.chats {
		all = append(all, d)
	}
	s.invites = make(map[string]*Discovery)
	s.chats = make(map[string]*Discovery)
	s.mu.Unlock()

	for _, d := range all {
		d.Destroy()
	}
}

// Close stops the listener and all discoveries.
func (s *Swarm) Close() {
	s.LeaveAll()
	s.mu.Lock()
	ln := s.ln
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
}

func (s *Swarm) acceptLoop() {
	for {
		sess, err := s.ln.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				zap.L().Warn("swarm accept failed", zap.Error(err))
			}
			return
		}
		s.deliver(sess)
	}
}

func (s *Swarm) deliver(sess transport.Session) {
	select {
	case s.sessions <- sess:
	case <-s.ctx.Done():
		_ = sess.Close()
	}
}

// shouldDial rate-limits dials to one attempt per address per window, across
// all discoveries.
func (s *Swarm) shouldDial(addr string) bool {
	const window = 10 * time.Second
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr == s.announceAddr {
		return false
	}
	if last, ok := s.recentDials[addr]; ok && now.Sub(last) < window {
		return false
	}
	s.recentDials[addr] = now
	return true
}

// Discovery is one live topic subscription. It stays open after a connection
// is established: the invite topic doubles as the backup reconnect path when
// a chat-topic connection drops.
type Discovery struct {
	key    string
	topic  topic.Topic
	sw     *Swarm
	ctx    context.Context
	cancel context.CancelFunc

	flushOnce sync.Once
	flushed   chan struct{}
}

// Topic returns the rendezvous topic of this handle.
func (d *Discovery) Topic() topic.Topic { return d.topic }

// Flushed blocks until the first announce/lookup round has completed.
func (d *Discovery) Flushed(ctx context.Context) error {
	select {
	case <-d.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// Destroy stops the refresh loop and withdraws the announce, best-effort.
func (d *Discovery) Destroy() {
	d.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.sw.dir.Unannounce(ctx, d.topic, d.sw.AnnounceAddr()); err != nil {
		zap.L().Debug("unannounce failed", zap.String("key", short(d.key)), zap.Error(err))
	}
}

func (d *Discovery) run() {
	d.round()
	d.flushOnce.Do(func() { close(d.flushed) })

	t := time.NewTicker(d.sw.cfg.AnnounceInterval)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
			d.round()
		}
	}
}

// round performs one announce+lookup cycle (both client and server roles) and
// dials any newly discovered addresses.
func (d *Discovery) round() {
	ctx, cancel := context.WithTimeout(d.ctx, d.sw.cfg.DialTimeout)
	defer cancel()

	if err := d.sw.dir.Announce(ctx, d.topic, d.sw.AnnounceAddr()); err != nil {
		zap.L().Warn("announce failed", zap.String("key", short(d.key)), zap.Error(err))
	}
	addrs, err := d.sw.dir.Lookup(ctx, d.topic)
	if err != nil {
		zap.L().Warn("lookup failed", zap.String("key", short(d.key)), zap.Error(err))
		return
	}
	for _, addr := range addrs {
		if !d.sw.shouldDial(addr) {
			continue
		}
		go d.dial(addr)
	}
}

func (d *Discovery) dial(addr string) {
	ctx, cancel := context.WithTimeout(d.ctx, d.sw.cfg.DialTimeout)
	defer cancel()
	sess, err := d.sw.tr.Dial(ctx, addr)
	if err != nil {
		zap.L().Debug("dial failed", zap.String("addr", addr), zap.Error(err))
		return
	}
	zap.L().Info("dialed discovered peer", zap.String("addr", addr), zap.String("key", short(d.key)))
	d.sw.deliver(sess)
}

func short(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}
