package main

import (
	"time"

	"github.com/spf13/cobra"
)

var sweepWindow time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Refresh every token expiring soon, once",
	Long: `Refreshes all accounts whose access token expires within the sweep window.
Accounts flagged for reconnection are skipped. Useful from an external scheduler
when serve is not running.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepWindow, "window", 0, "refresh tokens expiring within this window (default from config)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	window := a.cfg.Sweep.Window
	if sweepWindow > 0 {
		window = sweepWindow
	}

	report, err := a.manager.RefreshExpiring(cmd.Context(), window)
	if err != nil {
		return err
	}
	cmd.Printf("checked=%d refreshed=%d transient=%d escalated=%d\n",
		report.Checked, report.Refreshed, report.Transient, report.Escalated)
	return nil
}
