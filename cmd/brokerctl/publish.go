package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brokermesh/brokermesh/pkg/message"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

func newPublishCommand() *cobra.Command {
	var (
		topicStr  string
		payload   string
		localOnly bool
	)

	cmd := &cobra.Command{
		Use:   "publish <addr>",
		Short: "Publish one message through addr's mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := topic.New(topicStr)
			if err != nil {
				return fmt.Errorf("invalid topic: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			ep, err := joinMesh(ctx, args[0])
			if err != nil {
				return err
			}
			defer ep.Shutdown(context.Background())

			scope := message.ScopeRoutable
			if localOnly {
				scope = message.ScopeLocalOnly
			}

			fmt.Printf("Publishing to '%s' via %s...\n", t, args[0])
			if err := ep.Publish(t, []byte(payload), scope); err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}

			fmt.Printf("✅ Published\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&topicStr, "topic", "", "Topic to publish to (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "Message payload")
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "Never forward this message to peers")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("failed to mark topic as required: %v", err))
	}

	return cmd
}
