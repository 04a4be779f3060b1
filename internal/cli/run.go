package cli

import (
	"github.com/spf13/cobra"

	"skymirror/internal/notify"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mirror loop until interrupted",
	RunE:  runAction,
}

func runAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.login(ctx); err != nil {
		return err
	}
	loop, err := a.newLoop()
	if err != nil {
		a.log.Error(err, "Failed to create mirror loop")
		return err
	}

	a.startMetrics(ctx)
	a.alerter.Alert(ctx, notify.AlertStarted, map[string]any{
		"Target":   a.cfg.TargetUser,
		"Handle":   a.bluesky.Handle(),
		"Interval": a.cfg.PollInterval.String(),
	})

	loop.Run(ctx)
	a.log.Info("Shutdown complete")
	return nil
}
