// Package cli holds the reliability-engine command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-heal/internal/config"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "reliability-engine",
		Short:         "Autonomous reliability engine",
		Long:          "Heartbeat proof, scheduled diagnostics, audited patching and escalation for a single service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to configuration file (defaults to $MIRADOR_HEAL_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHeartbeatCommand(opts))
	cmd.AddCommand(NewTriggerCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewJanitorCommand(opts))

	return cmd
}

// loadConfig reads the configuration and builds the logger it describes.
func loadConfig(opts *RootOptions) (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, closeLog := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, cfg.Logging.File)
	return cfg, logger, closeLog, nil
}

// withApp loads config, builds the app, runs fn and tears everything down.
func withApp(ctx context.Context, opts *RootOptions, fn func(*App) error) error {
	cfg, logger, closeLog, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer closeLog()

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown incomplete", slog.Any("error", err))
		}
	}()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
