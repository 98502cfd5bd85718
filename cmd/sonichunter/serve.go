package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sonichunter/internal/app"
	"github.com/MrWong99/sonichunter/internal/config"
)

// process is a long-running role.
type process interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

func newSpiderCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "spider",
		Short: "Watch the monitored channels and catalogue new audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g, config.RoleSpider, func(ctx context.Context, cfg *config.Config) (process, error) {
				return app.NewSpider(ctx, cfg)
			})
		},
	}
}

func newFinderCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "finder",
		Short: "Answer /find and /stats in Discord and over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g, config.RoleFinder, func(ctx context.Context, cfg *config.Config) (process, error) {
				return app.NewFinder(ctx, cfg)
			})
		},
	}
}

// serve runs one process role until ctx is cancelled, reloading the log
// level whenever the config file changes.
func serve(ctx context.Context, g *globalFlags, role config.Role, build func(context.Context, *config.Config) (process, error)) error {
	rt, err := g.setup(ctx, role)
	if err != nil {
		return err
	}
	defer rt.close()

	p, err := build(ctx, rt.cfg)
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(g.configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			rt.level.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go func() { _ = watcher.Run(ctx) }()
	}

	slog.Info("server ready, press Ctrl+C to shut down", "role", role)
	runErr := p.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping", "role", role)
	if err := p.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr == nil {
		slog.Info("goodbye")
	}
	return runErr
}
