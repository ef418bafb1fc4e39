package main

import (
	"time"

	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"github.com/pysugar/tokenkeeper/internal/logging"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <owner-id>",
	Short: "Show the session state of an owner's active account",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.manager.ValidateSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if session.Account == nil {
		cmd.Printf("No linked account for owner %s\n", args[0])
		return nil
	}

	acc := session.Account
	state := token.StateOf(acc, time.Now(), a.manager.ExpiryBuffer())
	cmd.Printf("Account:       %s (%s, id %s)\n", acc.ProviderIdentity, acc.Provider, acc.ID)
	cmd.Printf("Access token:  %s\n", logging.MaskToken(acc.AccessToken))
	if acc.Expiry != nil {
		cmd.Printf("Expires:       %s\n", acc.Expiry.Local().Format(time.RFC3339))
	}
	cmd.Printf("State:         %s\n", state)
	cmd.Printf("Valid:         %t\n", session.IsValid)
	cmd.Printf("Needs refresh: %t\n", session.NeedsRefresh)
	return nil
}
