package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	adminSecret  string
	adminToken   string
	timeout      time.Duration
	joinDuration time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "brokerctl",
		Short: "brokermesh operator command line interface",
		Long: `brokerctl joins the mesh as a short-lived peer of a running broker and
drives publish, subscribe, peer, and status operations through that link.`,
	}

	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", os.Getenv("BROKER_ADMIN_SECRET"), "Shared secret used to sign/verify admin tokens")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("BROKER_ADMIN_TOKEN"), "Admin token (required for peer/unpeer)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().DurationVar(&joinDuration, "join-wait", 500*time.Millisecond, "How long to wait for the mesh join to sync before acting")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newPeerCommand())
	rootCmd.AddCommand(newUnpeerCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
