package core

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/identity"
	"github.com/damianfilipek81/whisper/pkg/metrics"
	"github.com/damianfilipek81/whisper/pkg/protocol"
	"github.com/damianfilipek81/whisper/pkg/storage"
	"github.com/damianfilipek81/whisper/pkg/swarm"
	"github.com/damianfilipek81/whisper/pkg/transport"
)

// RejoinTimeout bounds the background topic rejoin of one known chat at
// startup, so one unreachable peer cannot stall the others.
const RejoinTimeout = 5 * time.Second

// Options configures a Service. Transport and Directory are required; the
// rest have working defaults.
type Options struct {
	Transport transport.Transport
	Directory swarm.Directory
	Swarm     swarm.Config
	// SaveDelay is the debounce quiet period for state persistence.
	SaveDelay time.Duration
	Metrics   *metrics.Metrics
}

// Service is the chat core. One instance owns all mutable state; every
// exported method is safe for concurrent use.
type Service struct {
	opts    Options
	emitter *Emitter
	metrics *metrics.Metrics

	// initMu serializes Init/Destroy/ResetAllData so a concurrent second
	// init waits for the first instead of racing storage and network setup.
	initMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	root        *storage.Root
	local       *storage.Local
	keys        identity.KeyPair
	userID      string
	profile     protocol.UserProfile
	peers       map[string]*protocol.Peer
	chats       map[string]*protocol.Chat
	conns       map[string]*conn // peerId -> canonical live connection
	sw          *swarm.Swarm
	saverRef    *storage.Debouncer
	cancel      context.CancelFunc
}

// New builds a service. It holds no resources until Init.
func New(opts Options) *Service {
	return &Service{
		opts:    opts,
		emitter: NewEmitter(),
		metrics: opts.Metrics,
		peers:   make(map[string]*protocol.Peer),
		chats:   make(map[string]*protocol.Chat),
		conns:   make(map[string]*conn),
	}
}

// Events exposes the push-event stream. Subscriptions survive Destroy and
// re-Init.
func (s *Service) Events() *Emitter { return s.emitter }

// UserID returns the node's user id, empty before Init.
func (s *Service) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// saveDebounced schedules a coalesced state write. The debouncer is owned by
// this instance and created during Init.
func (s *Service) saveDebounced() {
	s.mu.Lock()
	d := s.saverRef
	s.mu.Unlock()
	if d != nil {
		d.Save()
	}
}

// Init opens storage at storagePath, loads or creates the identity, restores
// persisted state, starts the swarm and begins background rejoin of known
// chats. Calling Init on an initialized service returns the existing userId.
func (s *Service) Init(ctx context.Context, storagePath string) (string, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.initialized {
		uid := s.userID
		s.mu.Unlock()
		zap.L().Debug("init: already initialized", zap.String("userId", shortID(uid)))
		return uid, nil
	}
	s.mu.Unlock()

	if s.opts.Transport == nil || s.opts.Directory == nil {
		return "", errors.New("core: transport and directory are required")
	}

	root, err := storage.Open(storagePath)
	if err != nil {
		return "", fmt.Errorf("core: init storage: %w", err)
	}
	local, err := root.Local("local")
	if err != nil {
		_ = root.Close()
		return "", fmt.Errorf("core: init storage: %w", err)
	}
	keys, userID, err := identity.LoadOrCreate(local)
	if err != nil {
		_ = root.Close()
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sw := swarm.New(s.opts.Transport, s.opts.Directory, s.opts.Swarm)
	if err := sw.Start(runCtx); err != nil {
		cancel()
		_ = root.Close()
		return "", fmt.Errorf("core: start swarm: %w", err)
	}

	s.mu.Lock()
	s.root = root
	s.local = local
	s.keys = keys
	s.userID = userID
	s.sw = sw
	s.cancel = cancel
	s.saverRef = storage.NewDebouncer(s.opts.SaveDelay, s.persist)
	s.initialized = true
	s.mu.Unlock()

	s.loadState()

	go s.runSessions(runCtx, sw)
	go s.joinTopics(runCtx, sw)

	zap.L().Info("service initialized",
		zap.String("userId", shortID(userID)),
		zap.String("storage", storagePath))
	return userID, nil
}

// joinTopics joins the node's own invite topic, then rejoins the topics of
// every known chat in the background, one goroutine per chat with a bounded
// timeout. Failures are logged, never propagated.
func (s *Service) joinTopics(ctx context.Context, sw *swarm.Swarm) {
	ownCtx, cancel := context.WithTimeout(ctx, RejoinTimeout)
	if _, err := sw.JoinInvite(ownCtx, s.UserID()); err != nil {
		zap.L().Warn("join own invite topic failed", zap.Error(err))
	}
	cancel()

	s.mu.Lock()
	type target struct{ chatID, peerID string }
	targets := make([]target, 0, len(s.chats))
	for _, c := range s.chats {
		targets = append(targets, target{chatID: c.ID, peerID: c.PeerID})
	}
	s.mu.Unlock()

	for _, t := range targets {
		t := t
		go func() {
			jctx, jcancel := context.WithTimeout(ctx, RejoinTimeout)
			defer jcancel()
			if _, err := sw.JoinChat(jctx, t.chatID); err != nil {
				zap.L().Debug("rejoin chat topic failed",
					zap.String("chatId", shortID(t.chatID)), zap.Error(err))
			}
			if t.peerID == "" {
				return
			}
			if _, err := sw.JoinInvite(jctx, t.peerID); err != nil {
				zap.L().Debug("rejoin invite topic failed",
					zap.String("peerId", shortID(t.peerID)), zap.Error(err))
			}
		}()
	}
	s.metrics.SetTopicsJoined(len(targets) + 1)
}

// runSessions consumes raw sessions from the swarm and hands each to the
// arbiter on its own goroutine.
func (s *Service) runSessions(ctx context.Context, sw *swarm.Swarm) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-sw.Sessions():
			if !ok {
				return
			}
			go s.handleSession(ctx, sess)
		}
	}
}

// SetUserProfile overlays fields onto the profile, persists (debounced) and
// returns the merged profile.
func (s *Service) SetUserProfile(fields protocol.UserProfile) (protocol.UserProfile, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil, ErrNotInitialized
	}
	s.profile = s.profile.Merge(fields)
	merged := s.profile
	s.mu.Unlock()
	s.saveDebounced()
	return merged, nil
}

// GetUserProfile returns the profile and the node's user id.
func (s *Service) GetUserProfile() (protocol.UserProfile, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, "", ErrNotInitialized
	}
	return s.profile, s.userID, nil
}

// StartChatWithUser derives the canonical chat id for targetUserID, creates
// the chat lazily, emits peer_connecting and joins both the chat topic and
// the target's invite topic. Returns the chat id.
func (s *Service) StartChatWithUser(ctx context.Context, targetUserID string) (string, error) {
	if _, err := identity.ParseUserID(targetUserID); err != nil {
		return "", err
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return "", ErrNotInitialized
	}
	if targetUserID == s.userID {
		s.mu.Unlock()
		return "", errors.New("core: cannot start a chat with yourself")
	}
	chatID := s.chatIDFor(targetUserID)
	s.getOrCreateChatLocked(chatID, targetUserID)
	s.upsertPeerLocked(targetUserID, nil, time.Now().UnixMilli())
	sw := s.sw
	s.mu.Unlock()

	s.saveDebounced()
	s.emitter.Emit(EventPeerConnecting, map[string]any{"peerId": targetUserID})

	if _, err := sw.JoinChat(ctx, chatID); err != nil {
		return "", fmt.Errorf("core: join chat topic: %w", err)
	}
	if _, err := sw.JoinInvite(ctx, targetUserID); err != nil {
		zap.L().Warn("join invite topic failed",
			zap.String("peerId", shortID(targetUserID)), zap.Error(err))
	}
	return chatID, nil
}

// ConnectByShareCode validates the share code (a hex 32-byte public key) and
// starts a chat with its owner. Returns the chat id and the decoded user id.
func (s *Service) ConnectByShareCode(ctx context.Context, shareCode string) (string, string, error) {
	raw, err := hex.DecodeString(shareCode)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return "", "", errors.New("core: invalid share code")
	}
	targetUserID := hex.EncodeToString(raw)
	chatID, err := s.StartChatWithUser(ctx, targetUserID)
	if err != nil {
		return "", "", err
	}
	return chatID, targetUserID, nil
}

// GeneratePublicInvite returns the node's share code: its hex public key.
func (s *Service) GeneratePublicInvite() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", ErrNotInitialized
	}
	return s.userID, nil
}

// GetActiveChats returns every chat with its live connection flag and the
// peer's last known profile.
func (s *Service) GetActiveChats() ([]protocol.ChatWithStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]protocol.ChatWithStatus, 0, len(s.chats))
	for _, c := range s.chats {
		cs := protocol.ChatWithStatus{Chat: *c}
		if _, ok := s.conns[c.PeerID]; ok {
			cs.PeerConnected = true
		}
		if p, ok := s.peers[c.PeerID]; ok {
			cs.PeerProfile = p.Profile
		}
		out = append(out, cs)
	}
	return out, nil
}

// GetPeerStatus reports connected or disconnected for peerID.
func (s *Service) GetPeerStatus(peerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", ErrNotInitialized
	}
	if _, ok := s.conns[peerID]; ok {
		return "connected", nil
	}
	return "disconnected", nil
}

// GetKnownPeers lists every persisted peer record.
func (s *Service) GetKnownPeers() ([]protocol.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]protocol.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	return out, nil
}

// Destroy shuts the service down gracefully: connections and discoveries
// close, pending saves flush, storage closes. Persisted data and the identity
// survive for the next Init. Event subscriptions stay alive.
func (s *Service) Destroy(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.teardown(true)
}

// ResetAllData destroys the swarm, wipes the storage directory and clears all
// state including the identity. The next Init starts from scratch.
func (s *Service) ResetAllData(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.teardown(false)
}

// teardown stops everything. keep=true flushes and preserves on-disk state;
// keep=false deletes the storage tree. Individual teardown failures are
// logged and swallowed so reset always completes.
func (s *Service) teardown(keep bool) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}
	sw := s.sw
	cancel := s.cancel
	saver := s.saverRef
	root := s.root
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.initialized = false
	s.sw = nil
	s.cancel = nil
	s.saverRef = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.close(nil)
	}
	if sw != nil {
		sw.Close()
	}
	if cancel != nil {
		cancel()
	}
	if saver != nil && keep {
		if err := saver.Close(); err != nil {
			zap.L().Warn("final save failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.peers = make(map[string]*protocol.Peer)
	s.chats = make(map[string]*protocol.Chat)
	s.conns = make(map[string]*conn)
	s.profile = nil
	s.local = nil
	s.root = nil
	s.keys = identity.KeyPair{}
	s.userID = ""
	s.mu.Unlock()

	if saver != nil && !keep {
		// The store reference is gone, so a pending flush is a no-op.
		_ = saver.Close()
	}
	if root != nil {
		if keep {
			if err := root.Close(); err != nil {
				zap.L().Warn("storage close failed", zap.Error(err))
			}
		} else if err := root.Destroy(); err != nil {
			zap.L().Warn("storage destroy failed", zap.Error(err))
		}
	}
	s.metrics.SetTopicsJoined(0)
	zap.L().Info("service torn down", zap.Bool("dataKept", keep))
	return nil
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
