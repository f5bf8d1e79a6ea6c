package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/damianfilipek81/whisper/pkg/core"
	"github.com/damianfilipek81/whisper/pkg/rpc"
)

var (
	nodeAddr string
	client   *rpc.Client
)

func Execute() error {
	root := &cobra.Command{
		Use:   "whisper-ctl",
		Short: "Control a running whisper node",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := rpc.Dial(nodeAddr, 5*time.Second)
			if err != nil {
				return err
			}
			client = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if client != nil {
				_ = client.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&nodeAddr, "node", "127.0.0.1:7342", "node RPC address")

	root.AddCommand(profileCmd(), inviteCmd(), chatCmd(), peersCmd(), watchCmd())
	return root.Execute()
}

// call runs one command against the node and pretty-prints the response.
func call(command string, data map[string]any) error {
	resp, err := client.Call(command, data)
	if err != nil {
		return err
	}
	if ok, _ := resp["success"].(bool); !ok {
		return fmt.Errorf("%v", resp["error"])
	}
	delete(resp, "success")
	delete(resp, "id")
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// watch: stream push events to stdout until interrupted.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream node events",
		RunE: func(cmd *cobra.Command, args []string) error {
			for ev := range client.Events() {
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Println(string(b))
			}
			return nil
		},
	}
}

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List known peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdGetKnownPeers, nil)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <peerId>",
		Short: "Show connection status of a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(core.CmdGetPeerStatus, map[string]any{"peerId": args[0]})
		},
	})
	return cmd
}
