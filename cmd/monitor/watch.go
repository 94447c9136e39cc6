package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Hara602/devMonitor/internal/config"
	"github.com/Hara602/devMonitor/internal/core"
	"github.com/Hara602/devMonitor/internal/device"
	"github.com/Hara602/devMonitor/internal/loop"
	"github.com/Hara602/devMonitor/pkg/logging"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var flagFilter device.Filter

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print device events as they happen",
		Long: "Print device events as they happen.\n\n" +
			"With --config, edits to the file's monitor section are picked up\n" +
			"while running; command-line filters take precedence over the file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, err := opts.setup()
			if err != nil {
				return err
			}
			filter := cfg.Filter()
			fromFlags := !flagFilter.IsEmpty()
			if fromFlags {
				filter = flagFilter
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lp, err := loop.New(loop.WithLogger(logging.Named("loop")))
			if err != nil {
				return err
			}
			engine := core.NewEngine(svc, lp,
				core.WithLogger(logging.Named("engine")),
				core.WithDropUnknownActions(cfg.Monitor.DropUnknownActions))
			if err := engine.Watch(filter); err != nil {
				lp.Close()
				return err
			}

			if opts.configPath != "" && !fromFlags {
				err := config.Watch(ctx, opts.configPath, logging.Named("config"), func(c *config.Config) {
					engine.Reload(c.Filter())
				})
				if err != nil {
					logging.Logger.Warn("config reload disabled", zap.Error(err))
				}
			}

			printBanner(cfg, filter)
			return engine.Run(ctx)
		},
	}
	addFilterFlags(cmd, &flagFilter)
	return cmd
}
