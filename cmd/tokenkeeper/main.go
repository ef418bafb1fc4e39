package main

import (
	"context"
	"os"

	"github.com/pysugar/tokenkeeper/internal/version"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tokenkeeper",
	Short: "Keep OAuth access tokens valid for linked accounts",
	Long: `tokenkeeper stores linked OAuth accounts and hands out valid access tokens,
refreshing them at most once at a time per account and flagging accounts whose
refresh token was revoked so their owners can reconnect.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("tokenkeeper version %s\n", version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $TOKENKEEPER_CONFIG or ./tokenkeeper.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
