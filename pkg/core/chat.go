package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/protocol"
)

// VoiceMeta carries the optional voice-message fields of SendMessage.
type VoiceMeta struct {
	AudioData     string
	Transcription string
	Duration      float64
}

// newMessageID builds a globally unique message id: unix-ms timestamp plus a
// random suffix, joined by a colon. The id is the sole dedup key for incoming
// messages.
func newMessageID() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + ":" + suffix
}

// SendMessage appends a message to chatID and sends it to the peer. Local
// durability comes first: the message is appended as pending and scheduled
// for persist before any network write, and the sender's own UI is notified
// immediately. Only then is the envelope written to the live connection; on
// success the status flips to sent. With no live connection the message stays
// pending and ErrPeerNotConnected is returned.
func (s *Service) SendMessage(chatID, text, msgType string, meta VoiceMeta) (string, error) {
	if msgType == "" {
		msgType = protocol.MessageTypeText
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return "", ErrNotInitialized
	}
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	msg := protocol.Message{
		ID:            newMessageID(),
		ChatID:        chatID,
		SenderID:      s.userID,
		Type:          msgType,
		Text:          text,
		Timestamp:     time.Now().UnixMilli(),
		Status:        protocol.StatusPending,
		AudioData:     meta.AudioData,
		Transcription: meta.Transcription,
		Duration:      meta.Duration,
	}
	chat.Messages = append(chat.Messages, msg)
	idx := len(chat.Messages) - 1
	c := s.conns[chat.PeerID]
	s.mu.Unlock()

	s.saveDebounced()
	s.emitter.Emit(EventMessageReceived, map[string]any{
		"chatId":  chatID,
		"message": msg,
	})

	if c == nil {
		return msg.ID, ErrPeerNotConnected
	}
	wire, err := protocol.EncodeMessage(msg)
	if err != nil {
		return msg.ID, err
	}
	if err := c.writeChat(wire); err != nil {
		zap.L().Warn("chat write failed",
			zap.String("chatId", shortID(chatID)), zap.Error(err))
		return msg.ID, ErrPeerNotConnected
	}

	s.mu.Lock()
	if chat, ok := s.chats[chatID]; ok && idx < len(chat.Messages) && chat.Messages[idx].ID == msg.ID {
		chat.Messages[idx].Status = protocol.StatusSent
	}
	s.mu.Unlock()
	s.saveDebounced()
	s.metrics.RecordMessageSent()
	return msg.ID, nil
}

// handleIncoming processes one raw chat frame from peerID. Unknown envelope
// tags are ignored; a message whose id is already stored is dropped silently.
func (s *Service) handleIncoming(peerID string, raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		zap.L().Debug("bad chat frame", zap.String("peerId", shortID(peerID)), zap.Error(err))
		return
	}
	if env.T != protocol.EnvelopeMsg || env.Message == nil {
		return
	}
	msg := *env.Message
	chatID := msg.ChatID
	if chatID == "" {
		chatID = s.chatIDFor(peerID)
		msg.ChatID = chatID
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	chat := s.getOrCreateChatLocked(chatID, peerID)
	for i := range chat.Messages {
		if chat.Messages[i].ID == msg.ID {
			s.mu.Unlock()
			s.metrics.RecordDuplicateMessage()
			zap.L().Debug("duplicate message dropped",
				zap.String("id", msg.ID), zap.String("chatId", shortID(chatID)))
			return
		}
	}
	chat.Messages = append(chat.Messages, msg)
	s.mu.Unlock()

	s.saveDebounced()
	s.metrics.RecordMessageReceived()
	s.emitter.Emit(EventMessageReceived, map[string]any{
		"chatId":  chatID,
		"message": msg,
	})
}

// GetMessages returns the most recent limit messages of chatID in stored
// order. An unknown chat id yields an empty list, never an error.
func (s *Service) GetMessages(chatID string, limit int) ([]protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	chat, ok := s.chats[chatID]
	if !ok {
		return []protocol.Message{}, nil
	}
	msgs := chat.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]protocol.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
