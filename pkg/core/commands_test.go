package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damianfilipek81/whisper/pkg/protocol"
)

func dispatch(t *testing.T, s *Service, name string, data map[string]any) Response {
	t.Helper()
	return s.Dispatch(context.Background(), Command{Name: name, Data: data})
}

func TestDispatchFullFlow(t *testing.T) {
	net := newTestNet()
	s := net.newService(t, "a")

	resp := dispatch(t, s, CmdInit, map[string]any{"storagePath": t.TempDir()})
	require.Equal(t, true, resp["success"])
	userID, _ := resp["userId"].(string)
	require.NotEmpty(t, userID)

	resp = dispatch(t, s, CmdSetUserProfile, map[string]any{"name": "alice"})
	require.Equal(t, true, resp["success"])

	resp = dispatch(t, s, CmdGetUserProfile, nil)
	require.Equal(t, true, resp["success"])
	require.Equal(t, userID, resp["userId"])

	resp = dispatch(t, s, CmdGeneratePublicInvite, nil)
	require.Equal(t, true, resp["success"])
	require.Equal(t, userID, resp["shareCode"])

	peerID := otherUserID(t, net)
	resp = dispatch(t, s, CmdStartChatWithUser, map[string]any{"targetUserId": peerID})
	require.Equal(t, true, resp["success"])
	chatID, _ := resp["chatId"].(string)
	require.NotEmpty(t, chatID)

	resp = dispatch(t, s, CmdGetChatMessages, map[string]any{"chatId": chatID, "limit": float64(10)})
	require.Equal(t, true, resp["success"])

	resp = dispatch(t, s, CmdGetActiveChats, nil)
	require.Equal(t, true, resp["success"])

	resp = dispatch(t, s, CmdGetPeerStatus, map[string]any{"peerId": peerID})
	require.Equal(t, true, resp["success"])
	require.Equal(t, "disconnected", resp["status"])

	resp = dispatch(t, s, CmdGetKnownPeers, nil)
	require.Equal(t, true, resp["success"])

	resp = dispatch(t, s, CmdDestroy, nil)
	require.Equal(t, true, resp["success"])
}

func TestGetChatMessagesDefaultsLimit(t *testing.T) {
	net := newTestNet()
	s := net.newService(t, "a")
	dispatch(t, s, CmdInit, map[string]any{"storagePath": t.TempDir()})

	peerID := otherUserID(t, net)
	r := dispatch(t, s, CmdStartChatWithUser, map[string]any{"targetUserId": peerID})
	chatID, _ := r["chatId"].(string)
	require.NotEmpty(t, chatID)

	for i := 0; i < 60; i++ {
		_, err := s.SendMessage(chatID, fmt.Sprintf("m%d", i), "", VoiceMeta{})
		require.ErrorIs(t, err, ErrPeerNotConnected)
	}

	// No limit field: the reply is capped at the default window.
	resp := dispatch(t, s, CmdGetChatMessages, map[string]any{"chatId": chatID})
	require.Equal(t, true, resp["success"])
	msgs, _ := resp["messages"].([]protocol.Message)
	require.Len(t, msgs, defaultMessageLimit)
	require.Equal(t, "m10", msgs[0].Text)
	require.Equal(t, "m59", msgs[len(msgs)-1].Text)

	// An explicit limit still wins.
	resp = dispatch(t, s, CmdGetChatMessages, map[string]any{"chatId": chatID, "limit": float64(5)})
	msgs, _ = resp["messages"].([]protocol.Message)
	require.Len(t, msgs, 5)
	require.Equal(t, "m55", msgs[0].Text)
}

func TestDispatchErrorsAreStructured(t *testing.T) {
	net := newTestNet()
	s := net.newService(t, "a")

	// Not initialized yet.
	resp := dispatch(t, s, CmdGetUserProfile, nil)
	require.Equal(t, false, resp["success"])
	require.NotEmpty(t, resp["error"])

	dispatch(t, s, CmdInit, map[string]any{"storagePath": t.TempDir()})

	// Offline peer send fails but does not crash.
	peerID := otherUserID(t, net)
	r := dispatch(t, s, CmdStartChatWithUser, map[string]any{"targetUserId": peerID})
	resp = dispatch(t, s, CmdSendMessage, map[string]any{"chatId": r["chatId"], "text": "hi"})
	require.Equal(t, false, resp["success"])
	require.Contains(t, resp["error"], "not connected")

	// Unknown chat.
	resp = dispatch(t, s, CmdSendMessage, map[string]any{"chatId": "nope", "text": "hi"})
	require.Equal(t, false, resp["success"])
	require.Contains(t, resp["error"], "chat not found")

	// Unknown command.
	resp = dispatch(t, s, "selfDestruct", nil)
	require.Equal(t, false, resp["success"])

	// Bad share code.
	resp = dispatch(t, s, CmdConnectByShareCode, map[string]any{"shareCode": "zz"})
	require.Equal(t, false, resp["success"])
}
