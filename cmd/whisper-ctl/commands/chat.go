package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/damianfilipek81/whisper/pkg/core"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List chats with connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdGetActiveChats, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "start <userId>",
		Short: "Start a chat with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdStartChatWithUser, map[string]any{"targetUserId": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "send <chatId> <text>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdSendMessage, map[string]any{
				"chatId": args[0],
				"text":   args[1],
			})
		},
	})

	history := &cobra.Command{
		Use:   "history <chatId> [limit]",
		Short: "Show recent messages",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{"chatId": args[0]}
			if len(args) == 2 {
				limit, err := strconv.Atoi(args[1])
				if err != nil {
					return err
				}
				data["limit"] = limit
			}
			return call(core.CmdGetChatMessages, data)
		},
	}
	cmd.AddCommand(history)
	return cmd
}
