package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Pipeline health checks and alerting",
}

var monitorCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Collect metrics once, print the snapshot, and send any alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lookback := cfg.Monitoring.LookbackWindowHours
		if lookback <= 0 {
			lookback = 24
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "monitor check")
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if len(alerts) > 0 {
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("monitor check",
				zap.Int("alerts_triggered", len(alerts)),
				zap.Int("alerts_sent", sent),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"snapshot": snap,
			"alerts":   alerts,
		})
	},
}

var monitorWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the alert checker until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		checker.Run(ctx)
		return nil
	},
}

func init() {
	monitorCmd.AddCommand(monitorCheckCmd)
	monitorCmd.AddCommand(monitorWatchCmd)
	rootCmd.AddCommand(monitorCmd)
}
