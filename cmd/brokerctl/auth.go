package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/brokermesh/brokermesh/internal/authn"
)

func newTokenAuth() *authn.TokenAuth {
	return authn.New(adminSecret, 24*time.Hour)
}

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Issue and inspect admin tokens",
	}
	cmd.AddCommand(newAuthIssueCommand())
	return cmd
}

func newAuthIssueCommand() *cobra.Command {
	var clientID string
	var admin bool

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed admin token for a client id",
		Long: `Issue a token signed with --admin-secret. The peer/unpeer commands
require a token with admin privilege.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminSecret == "" {
				return fmt.Errorf("--admin-secret (or BROKER_ADMIN_SECRET) is required to sign tokens")
			}
			token, expiresAt, err := newTokenAuth().IssueToken(clientID, admin)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Printf("✅ Token issued for %q (admin=%t), expires %s\n", clientID, admin, expiresAt.Format(time.RFC3339))
			fmt.Printf("Token: %s\n", token)
			fmt.Printf("\nExport it for subsequent commands:\n")
			fmt.Printf("  export BROKER_ADMIN_TOKEN=\"%s\"\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id the token is issued to (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin privilege (required for peer/unpeer)")
	if err := cmd.MarkFlagRequired("client-id"); err != nil {
		panic(fmt.Sprintf("failed to mark client-id as required: %v", err))
	}

	return cmd
}
