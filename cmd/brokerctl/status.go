package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <addr>",
		Short: "Join addr's mesh briefly and print the routes learned from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			ep, err := joinMesh(ctx, args[0])
			if err != nil {
				return err
			}
			defer ep.Shutdown(context.Background())

			routes := ep.RoutingSnapshot()
			fmt.Printf("Operator node: %s\n", ep.ID())
			fmt.Printf("Routes learned via %s: %d\n", args[0], len(routes))
			for _, r := range routes {
				fmt.Printf("  dest=%s next_hop=%s distance=%d version=%d\n", r.Dest, r.NextHop, r.Distance, r.Version)
			}

			stats := ep.PoolStats()
			fmt.Printf("Item pool: live=%d acquired=%d released=%d\n", stats.Live, stats.Acquired, stats.Released)

			return nil
		},
	}
}
