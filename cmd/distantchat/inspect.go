package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
	"github.com/ZentaChain/zentalk-distantchat/pkg/storage"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Decode a checkpoint file",
		Long: `Decode every frame of a checkpoint file and print a summary of each
record. Malformed frames are skipped and counted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, dropped, err := storage.ReadCheckpoint(args[0], chat.NewRegistry())

			for i, it := range items {
				fmt.Printf("#%-4d %-22s %5d bytes  %s\n", i+1, chat.SubtypeName(it.Subtype()), protocol.Size(it), summarize(it))
			}
			fmt.Printf("\n%d records, %d malformed\n", len(items), dropped)

			return err
		},
	}
}

func summarize(it protocol.Item) string {
	switch v := it.(type) {
	case *chat.PrivateChatRecord:
		return fmt.Sprintf("peer=%s flags=0x%x config=0x%x sent=%d %q", v.ConfigPeerID, v.ChatFlags, v.ConfigFlags, v.SendTime, v.Message)
	case *chat.DistantInviteRecord:
		return fmt.Sprintf("hash=%s dest=%s valid_until=%d last_hit=%d flags=0x%x", v.Hash, v.Destination, v.ValidUntil, v.LastHit, v.Flags)
	case *chat.LobbyConfig:
		return fmt.Sprintf("lobby=%d flags=0x%x", v.LobbyID, v.Flags)
	case *chat.ChatText:
		return fmt.Sprintf("flags=0x%x sent=%d %q", v.ChatFlags, v.SendTime, v.Message)
	case *chat.StatusControl:
		return fmt.Sprintf("flags=0x%x %q", v.Flags, v.Status)
	default:
		return ""
	}
}
