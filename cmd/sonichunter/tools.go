package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sonichunter/internal/app"
	"github.com/MrWong99/sonichunter/internal/catalog"
	"github.com/MrWong99/sonichunter/internal/config"
	"github.com/MrWong99/sonichunter/internal/ingest"
)

func newBackfillCmd(g *globalFlags) *cobra.Command {
	var (
		channels []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Catalogue recent history of channels once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := g.setup(ctx, config.RoleSpider)
			if err != nil {
				return err
			}
			defer rt.close()

			if len(channels) == 0 {
				channels = rt.cfg.Discord.MonitoredChannels
			}
			if limit <= 0 {
				limit = rt.cfg.Ingest.BackfillLimit
			}

			spider, err := app.NewSpider(ctx, rt.cfg)
			if err != nil {
				return err
			}
			defer spider.Shutdown(ctx)

			reports := spider.Backfill(ctx, channels, limit)
			printReports(cmd.OutOrStdout(), reports)
			for _, r := range reports {
				if r.Err != nil {
					return fmt.Errorf("backfill of %s incomplete: %w", r.ChannelID, r.Err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "channel IDs to scan (default: the monitored channels)")
	cmd.Flags().IntVar(&limit, "limit", 0, "messages to visit per channel (default: ingest.backfill_limit)")
	return cmd
}

func printReports(w io.Writer, reports []ingest.Report) {
	for _, r := range reports {
		fmt.Fprintf(w, "%s\tvisited=%d inserted=%d duplicate=%d skipped=%d ignored=%d dropped=%d\n",
			r.ChannelID, r.Visited,
			r.Outcomes[ingest.Inserted],
			r.Outcomes[ingest.Duplicate],
			r.Outcomes[ingest.Skipped],
			r.Outcomes[ingest.Ignored],
			r.Outcomes[ingest.Dropped],
		)
	}
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the catalog schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := g.setup(ctx, config.RoleTool)
			if err != nil {
				return err
			}
			defer rt.close()

			store, closeStore, err := app.OpenStore(ctx, rt.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "catalog schema is up to date")
			return nil
		},
	}
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the catalog counters as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := g.setup(ctx, config.RoleTool)
			if err != nil {
				return err
			}
			defer rt.close()

			store, closeStore, err := app.OpenStore(ctx, rt.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			return writeStats(cmd, store)
		},
	}
}

func writeStats(cmd *cobra.Command, c catalog.Counter) error {
	st, err := catalog.ReadStats(cmd.Context(), c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
