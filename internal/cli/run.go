package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrijr/bgwork/internal/config"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the configured services until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(a.host.Services()))
	for _, svc := range a.host.Services() {
		names = append(names, svc.Name())
	}
	logger.InfoContext(ctx, "bgwork_starting", slog.Any("services", names))

	err = a.host.Run(ctx)
	err = errors.Join(err, a.close())
	logger.InfoContext(context.WithoutCancel(ctx), "bgwork_stopped", slog.Any("error", err))
	return err
}
