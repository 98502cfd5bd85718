// Command sonichunter runs the SonicHunter audio index: the spider that
// catalogues audio posted to Discord, the finder that answers lookups, and
// a few one-shot maintenance commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sonichunter/internal/config"
	"github.com/MrWong99/sonichunter/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds the graceful teardown after a signal.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sonichunter: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "sonichunter",
		Short:         "Index and search audio shared in Discord channels",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config is parsed")

	root.AddCommand(
		newSpiderCmd(g),
		newFinderCmd(g),
		newBackfillCmd(g),
		newMigrateCmd(g),
		newStatsCmd(g),
	)
	return root
}

// runEnv is what every subcommand gets after setup.
type runEnv struct {
	cfg      *config.Config
	level    *slog.LevelVar
	shutdown func(context.Context) error
}

// setup loads dotenv files and the config, checks the role's required
// settings, installs the default logger and the telemetry providers.
func (g *globalFlags) setup(ctx context.Context, role config.Role) (*runEnv, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", g.configPath)
		}
		return nil, err
	}
	if err := config.RequireRole(cfg, role); err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(level))

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "sonichunter-" + string(role),
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	slog.Info("sonichunter starting",
		"role", role,
		"version", version,
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	return &runEnv{cfg: cfg, level: level, shutdown: shutdown}, nil
}

// close flushes telemetry.
func (rt *runEnv) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
