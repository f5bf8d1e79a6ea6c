package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/protocol"
)

// Command names accepted by Dispatch.
const (
	CmdInit                 = "init"
	CmdSetUserProfile       = "setUserProfile"
	CmdGetUserProfile       = "getUserProfile"
	CmdStartChatWithUser    = "startChatWithUser"
	CmdGetChatMessages      = "getChatMessages"
	CmdSendMessage          = "sendMessage"
	CmdConnectByShareCode   = "connectByShareCode"
	CmdGetActiveChats       = "getActiveChats"
	CmdGeneratePublicInvite = "generatePublicInvite"
	CmdGetPeerStatus        = "getPeerStatus"
	CmdGetKnownPeers        = "getKnownPeers"
	CmdResetAllData         = "resetAllData"
	CmdDestroy              = "destroy"
)

// defaultMessageLimit bounds a getChatMessages reply when the host omits the
// limit field.
const defaultMessageLimit = 50

// Command is one request from the host.
type Command struct {
	Name string         `json:"command"`
	Data map[string]any `json:"data,omitempty"`
}

// Response is the structured reply. Every response carries "success"; a
// failure carries "error".
type Response map[string]any

func ok(fields map[string]any) Response {
	r := Response{"success": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func fail(err error) Response {
	return Response{"success": false, "error": err.Error()}
}

// Dispatch routes one command to its handler. This is the trust boundary with
// the host: errors and panics become structured failure responses, never a
// crash.
func (s *Service) Dispatch(ctx context.Context, cmd Command) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("command handler panicked",
				zap.String("command", cmd.Name), zap.Any("panic", r))
			resp = fail(fmt.Errorf("internal error: %v", r))
		}
	}()

	switch cmd.Name {
	case CmdInit:
		path, _ := cmd.Data["storagePath"].(string)
		userID, err := s.Init(ctx, path)
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"userId": userID})

	case CmdSetUserProfile:
		profile, err := s.SetUserProfile(protocol.UserProfile(cmd.Data))
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"profile": profile})

	case CmdGetUserProfile:
		profile, userID, err := s.GetUserProfile()
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"profile": profile, "userId": userID})

	case CmdStartChatWithUser:
		target, _ := cmd.Data["targetUserId"].(string)
		chatID, err := s.StartChatWithUser(ctx, target)
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"chatId": chatID})

	case CmdGetChatMessages:
		chatID, _ := cmd.Data["chatId"].(string)
		limit := defaultMessageLimit
		if _, present := cmd.Data["limit"]; present {
			limit = intField(cmd.Data, "limit")
		}
		msgs, err := s.GetMessages(chatID, limit)
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"messages": msgs})

	case CmdSendMessage:
		chatID, _ := cmd.Data["chatId"].(string)
		text, _ := cmd.Data["text"].(string)
		msgType, _ := cmd.Data["type"].(string)
		meta := VoiceMeta{
			AudioData:     stringField(cmd.Data, "audioData"),
			Transcription: stringField(cmd.Data, "transcription"),
			Duration:      floatField(cmd.Data, "duration"),
		}
		id, err := s.SendMessage(chatID, text, msgType, meta)
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"messageId": id})

	case CmdConnectByShareCode:
		code, _ := cmd.Data["shareCode"].(string)
		chatID, target, err := s.ConnectByShareCode(ctx, code)
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"chatId": chatID, "connectedTo": target})

	case CmdGetActiveChats:
		chats, err := s.GetActiveChats()
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"chats": chats})

	case CmdGeneratePublicInvite:
		code, err := s.GeneratePublicInvite()
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"shareCode": code})

	case CmdGetPeerStatus:
		peerID, _ := cmd.Data["peerId"].(string)
		status, err := s.GetPeerStatus(peerID)
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"status": status})

	case CmdGetKnownPeers:
		peers, err := s.GetKnownPeers()
		if err != nil {
			return fail(err)
		}
		return ok(map[string]any{"peers": peers})

	case CmdResetAllData:
		if err := s.ResetAllData(ctx); err != nil {
			return fail(err)
		}
		return ok(map[string]any{"message": "all data reset"})

	case CmdDestroy:
		if err := s.Destroy(ctx); err != nil {
			return fail(err)
		}
		return ok(nil)

	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Name))
	}
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
