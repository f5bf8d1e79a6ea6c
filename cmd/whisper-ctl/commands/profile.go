package commands

import (
	"github.com/spf13/cobra"

	"github.com/damianfilipek81/whisper/pkg/core"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the node's user profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdGetUserProfile, nil)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-name <name>",
		Short: "Set the display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdSetUserProfile, map[string]any{"name": args[0]})
		},
	})
	return cmd
}

func inviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Show this node's share code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdGeneratePublicInvite, nil)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "accept <shareCode>",
		Short: "Connect to a peer by share code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdConnectByShareCode, map[string]any{"shareCode": args[0]})
		},
	})
	return cmd
}
