package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brokermesh/brokermesh/pkg/topic"
)

func newSubscribeCommand() *cobra.Command {
	var topicStr string

	cmd := &cobra.Command{
		Use:   "subscribe <addr>",
		Short: "Stream messages matching a topic filter from addr's mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := topic.New(topicStr)
			if err != nil {
				return fmt.Errorf("invalid topic: %w", err)
			}

			joinCtx, joinCancel := context.WithTimeout(context.Background(), timeout)
			ep, err := joinMesh(joinCtx, args[0])
			joinCancel()
			if err != nil {
				return err
			}
			defer ep.Shutdown(context.Background())

			sub, err := ep.Subscribe(t)
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}
			defer sub.Close()

			fmt.Printf("Subscribed to '%s' via %s. Press Ctrl+C to stop.\n", t, args[0])

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			for {
				got, payload, err := sub.Next(ctx)
				if err != nil {
					return nil
				}
				fmt.Printf("[%s] %s\n", got, payload)
			}
		},
	}

	cmd.Flags().StringVar(&topicStr, "topic", "", "Topic filter to subscribe to (required)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("failed to mark topic as required: %v", err))
	}

	return cmd
}
