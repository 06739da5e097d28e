// Package cli implements the bgwork command: a host for an in-process
// channel, an optional cron heartbeat and an optional broker relay, plus
// helpers to publish test messages and inspect the effective configuration.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrijr/bgwork/internal/config"
)

// NewRootCommand builds the bgwork command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "bgwork",
		Short:         "Run background work services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", os.Getenv("BGWORK_CONFIG"), "YAML or JSON configuration file")
	root.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(newRunCommand())
	root.AddCommand(newPublishCommand())
	root.AddCommand(newConfigCommand())
	return root
}

// readConfig applies, in order: defaults, the config file, BGWORK_*
// variables and command line overrides. The result is not validated.
func readConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.FromEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
