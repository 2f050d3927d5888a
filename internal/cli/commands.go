package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-heal/internal/heartbeat"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/report"
	"github.com/miradorstack/mirador-heal/internal/store"
)

// NewHeartbeatCommand runs the standalone heartbeat emitter.
func NewHeartbeatCommand(opts *RootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Emit heartbeats until interrupted",
		Long: `Record one heartbeat immediately and then one per heartbeat.interval.

A failed write is logged and retried at the next tick; the process keeps running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer closeLog()
			if source == "" {
				source = cfg.Heartbeat.Source
			}

			st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, store.Options{Timeout: cfg.Database.Timeout})
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			heartbeat.NewEmitter(heartbeat.NewStore(st, nil), source, cfg.Heartbeat.Interval, cfg.Database.Timeout, logger).Run(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "heartbeat source (defaults to heartbeat.source)")
	return cmd
}

// NewTriggerCommand runs one job synchronously and prints the closed run.
func NewTriggerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job>",
		Short: "Run a job now and print the result",
		Example: `  reliability-engine trigger nightly-scan
  reliability-engine trigger nightly-scan --config ./heal.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(app *App) error {
				run, err := app.Engine.RunSync(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), run); err != nil {
					return err
				}
				if run.Status == models.RunFailed {
					return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
				}
				return nil
			})
		},
	}
}

// NewReportCommand prints the proof report.
func NewReportCommand(opts *RootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the proof report as JSON",
		Long:  "Print the proof report as JSON. Without --days the window is healing.reportDays.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			explicit := cmd.Flags().Changed("days")
			if explicit && (days < 1 || days > report.MaxDays) {
				return fmt.Errorf("--days must be between 1 and %d", report.MaxDays)
			}
			return withApp(cmd.Context(), opts, func(app *App) error {
				if !explicit {
					days = app.Config.Healing.ReportDays
				}
				return printJSON(cmd.OutOrStdout(), app.Reports.Generate(cmd.Context(), days))
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", report.DefaultDays, "lookback window in days (1-90)")
	return cmd
}

// NewJanitorCommand runs one sweep over abandoned runs.
func NewJanitorCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Close runs abandoned while running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(app *App) error {
				closed, err := app.Janitor.Sweep(cmd.Context())
				if printErr := printJSON(cmd.OutOrStdout(), map[string]any{"closed": closed}); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}
