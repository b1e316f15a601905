package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// daemonCmd runs periodic reconciliation cycles until interrupted.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run periodic reconciliation cycles until interrupted",
	Long: `Daemon runs a cycle immediately, then one per configured interval
(sync.interval, default 5m). A tick that arrives while a cycle is still
running is skipped, never queued. SIGINT or SIGTERM stops the loop after
the in-flight cycle completes.

Example:
  fundingtracker daemon --config tracker.yaml`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
