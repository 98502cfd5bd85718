package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sonichunter/internal/config"
	"github.com/MrWong99/sonichunter/internal/discord"
	"github.com/MrWong99/sonichunter/internal/ingest"
	"github.com/MrWong99/sonichunter/internal/observe"
)

// Spider is the ingestion process. It watches the monitored channels,
// relays new audio and records it in the catalog.
type Spider struct {
	*base

	sess     discord.Session
	bot      *discord.Bot
	pipeline *ingest.Pipeline
	history  *discord.History
}

// NewSpider wires the ingestion process from cfg. Nothing touches the
// gateway until [Spider.Run].
func NewSpider(ctx context.Context, cfg *config.Config, opts ...Option) (*Spider, error) {
	d := &deps{}
	for _, o := range opts {
		o(d)
	}

	b, err := newBase(ctx, cfg, config.RoleSpider, d)
	if err != nil {
		return nil, fmt.Errorf("app: spider: %w", err)
	}
	s := &Spider{base: b}

	s.sess, err = d.discordSession(cfg, discord.SpiderIntents)
	if err != nil {
		_ = b.Shutdown(ctx)
		return nil, fmt.Errorf("app: spider: %w", err)
	}

	var relayOpts []discord.RelayOption
	if d.client != nil {
		relayOpts = append(relayOpts, discord.WithHTTPClient(d.client))
	}
	relay := discord.NewRelay(s.sess, cfg.Discord.RelayChannelID, relayOpts...)

	s.pipeline = ingest.New(relay, b.store,
		ingest.WithQueueSize(cfg.Ingest.QueueSize),
		ingest.WithBackfillInterval(cfg.Ingest.BackfillInterval),
		ingest.WithBackfillConcurrency(cfg.Ingest.BackfillConcurrency),
		ingest.WithMetrics(b.metrics),
	)
	listener := discord.NewListener(s.pipeline, cfg.Discord.RelayChannelID, cfg.Discord.MonitoredChannels)
	s.bot = discord.NewBot(s.sess, discord.WithListener(listener), discord.WithGuild(cfg.Discord.GuildID))
	s.history = discord.NewHistory(s.sess)

	slog.Info("spider initialised",
		"relay_channel_id", cfg.Discord.RelayChannelID,
		"monitored", len(cfg.Discord.MonitoredChannels),
	)
	return s, nil
}

// Handler returns the operational HTTP surface: health, status and metrics.
func (s *Spider) Handler() http.Handler {
	mux := http.NewServeMux()
	s.healthHandler().Register(mux)
	registerStatus(mux, s.store)
	mux.Handle("GET /metrics", observe.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// Run starts the pipeline workers, the gateway session and the HTTP
// listener, and blocks until ctx is cancelled or one of them fails. Once the
// gateway is ready and backfill_on_start is set, every monitored channel is
// backfilled in the background.
func (s *Spider) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.pipeline.Run(ctx) })
	g.Go(func() error { return s.bot.Run(ctx) })
	g.Go(func() error { return serveHTTP(ctx, s.cfg.Server.ListenAddr, s.Handler()) })
	g.Go(func() error {
		select {
		case <-s.bot.Ready():
		case <-ctx.Done():
			return nil
		}
		s.ready.Set(true)
		if s.cfg.Ingest.BackfillOnStart {
			s.Backfill(ctx, s.cfg.Discord.MonitoredChannels, s.cfg.Ingest.BackfillLimit)
		}
		return nil
	})

	return g.Wait()
}

// Backfill scans the recent history of channels and returns one report per
// channel in input order. It only needs the REST side of the session, so it
// also serves the one-shot backfill command. The relay channel is never
// scanned and gets no report.
func (s *Spider) Backfill(ctx context.Context, channels []string, limit int) []ingest.Report {
	scan := make([]string, 0, len(channels))
	for _, id := range channels {
		if id == s.cfg.Discord.RelayChannelID {
			slog.Warn("skipping backfill of the relay channel", "channel_id", id)
			continue
		}
		scan = append(scan, id)
	}
	reports := s.pipeline.BackfillAll(ctx, s.history, scan, limit)
	for _, r := range reports {
		if r.Err != nil {
			slog.Warn("backfill incomplete", "channel_id", r.ChannelID, "visited", r.Visited, "err", r.Err)
		}
	}
	return reports
}
