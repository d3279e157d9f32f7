package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newPeerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "peer <addr>",
		Short: "Join addr's mesh and hold the link open",
		Long: `Peer starts a transient operator node, dials addr, and stays resident
so the link (and any routes learned over it) remain live until Ctrl+C.
Requires an admin token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAdminToken(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ep, err := joinMesh(ctx, args[0])
			if err != nil {
				return err
			}
			defer ep.Shutdown(context.Background())

			fmt.Printf("✅ Peered with %s as %s\n", args[0], ep.ID())
			fmt.Printf("Holding the link open. Press Ctrl+C to disconnect.\n")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}
}
