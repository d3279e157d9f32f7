package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newUnpeerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unpeer <addr>",
		Short: "Cancel an in-flight dial retry loop for addr",
		Long: `Unpeer cancels this operator node's own pending connection attempt to
addr. It has no effect on an already-established link elsewhere in the
mesh. Requires an admin token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAdminToken(); err != nil {
				return err
			}

			cfg := defaultLocalConfig()
			ep, err := newLocalEndpoint(cfg)
			if err != nil {
				return err
			}
			defer ep.Shutdown(context.Background())

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ep.Peer(ctx, args[0])
			ep.Unpeer(args[0])

			fmt.Printf("✅ Cancelled retry loop for %s\n", args[0])
			return nil
		},
	}
}
