// Package core implements the chat service: one explicitly constructed object
// owning all mutable state (peers, chats, profile, live connections), the
// connection arbiter, the message log and the command dispatcher. No
// package-level singletons; tests run many isolated instances side by side.
package core

import (
	"encoding/json"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/protocol"
	"github.com/damianfilipek81/whisper/pkg/topic"
)

// User-visible sentinel errors, surfaced through the dispatcher as structured
// failures.
var (
	ErrNotInitialized   = errors.New("service not initialized")
	ErrChatNotFound     = errors.New("chat not found")
	ErrPeerNotConnected = errors.New("peer not connected")
)

// Persisted state keys in the "local" sub-store. pub/sec live beside them,
// owned by the identity package.
const (
	keyPeers   = "v2_peers"
	keyChats   = "v2_chats"
	keyProfile = "v2_profile"
)

// loadState reads peers, chats and profile from the local store into memory.
// Absent keys mean empty collections; a key that fails to parse is logged and
// skipped rather than failing initialization. Connection status is never
// persisted, so loaded chats always start disconnected.
func (s *Service) loadState() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, err := s.local.Get(keyPeers); err != nil {
		zap.L().Warn("load peers failed", zap.Error(err))
	} else if len(b) > 0 {
		var peers []protocol.Peer
		if err := json.Unmarshal(b, &peers); err != nil {
			zap.L().Warn("parse peers failed", zap.Error(err))
		} else {
			for i := range peers {
				p := peers[i]
				s.peers[p.PeerID] = &p
			}
		}
	}

	if b, err := s.local.Get(keyChats); err != nil {
		zap.L().Warn("load chats failed", zap.Error(err))
	} else if len(b) > 0 {
		var chats []protocol.Chat
		if err := json.Unmarshal(b, &chats); err != nil {
			zap.L().Warn("parse chats failed", zap.Error(err))
		} else {
			for i := range chats {
				c := chats[i]
				s.chats[c.ID] = &c
			}
		}
	}

	if b, err := s.local.Get(keyProfile); err != nil {
		zap.L().Warn("load profile failed", zap.Error(err))
	} else if len(b) > 0 {
		var profile protocol.UserProfile
		if err := json.Unmarshal(b, &profile); err != nil {
			zap.L().Warn("parse profile failed", zap.Error(err))
		} else {
			s.profile = profile
		}
	}

	zap.L().Info("state loaded",
		zap.Int("peers", len(s.peers)),
		zap.Int("chats", len(s.chats)))
}

// persist writes the full state snapshot to the local store. It is the flush
// callback of the debouncer, so it reads state fresh at write time. Errors are
// reported to the caller (and metrics) but never take the service down.
func (s *Service) persist() error {
	s.mu.Lock()
	local := s.local
	if local == nil {
		s.mu.Unlock()
		return nil
	}
	peers := make([]protocol.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, *p)
	}
	chats := make([]protocol.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		chats = append(chats, *c)
	}
	// Stable order keeps the on-disk blobs diffable.
	sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID < peers[j].PeerID })
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	// Marshal under the lock: chat structs share their message slices with
	// live state, and a concurrent append must not race the encoder.
	peersB, err := json.Marshal(peers)
	chatsB, errChats := json.Marshal(chats)
	profileB, errProfile := json.Marshal(s.profile)
	s.mu.Unlock()

	if err == nil {
		err = errChats
	}
	if err == nil {
		err = errProfile
	}
	if err != nil {
		s.metrics.RecordSave(err)
		return err
	}
	err = local.Put(keyPeers, peersB)
	if e := local.Put(keyChats, chatsB); err == nil {
		err = e
	}
	if e := local.Put(keyProfile, profileB); err == nil {
		err = e
	}
	s.metrics.RecordSave(err)
	return err
}

// getOrCreateChatLocked returns the chat for chatID, creating it lazily on
// first reference. Caller holds s.mu.
func (s *Service) getOrCreateChatLocked(chatID, peerID string) *protocol.Chat {
	if c, ok := s.chats[chatID]; ok {
		return c
	}
	c := &protocol.Chat{ID: chatID, PeerID: peerID}
	s.chats[chatID] = c
	return c
}

// upsertPeerLocked records a successful contact with peerID. Caller holds
// s.mu.
func (s *Service) upsertPeerLocked(peerID string, profile protocol.UserProfile, nowMS int64) *protocol.Peer {
	p, ok := s.peers[peerID]
	if !ok {
		p = &protocol.Peer{PeerID: peerID}
		s.peers[peerID] = p
	}
	p.LastSeen = nowMS
	if len(profile) > 0 {
		p.Profile = p.Profile.Merge(profile)
	}
	return p
}

// chatIDFor returns the canonical pair id between self and peerID.
func (s *Service) chatIDFor(peerID string) string {
	return topic.DeriveChatID(s.userID, peerID)
}
