package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sonichunter/internal/cache"
	"github.com/MrWong99/sonichunter/internal/config"
	"github.com/MrWong99/sonichunter/internal/discord"
	"github.com/MrWong99/sonichunter/internal/discord/commands"
	"github.com/MrWong99/sonichunter/internal/health"
	"github.com/MrWong99/sonichunter/internal/observe"
	"github.com/MrWong99/sonichunter/internal/search"
)

// Finder is the lookup process. It answers /find and /stats in Discord and
// the same queries over HTTP.
type Finder struct {
	*base

	cache  cache.Cache
	search *search.Service
	relay  *discord.Relay
	bot    *discord.Bot
}

// NewFinder wires the lookup process from cfg. Without a Redis address the
// results are cached in process memory.
func NewFinder(ctx context.Context, cfg *config.Config, opts ...Option) (*Finder, error) {
	d := &deps{}
	for _, o := range opts {
		o(d)
	}

	b, err := newBase(ctx, cfg, config.RoleFinder, d)
	if err != nil {
		return nil, fmt.Errorf("app: finder: %w", err)
	}
	f := &Finder{base: b, cache: d.cache}

	if f.cache == nil {
		if err := f.openCache(ctx); err != nil {
			_ = b.Shutdown(ctx)
			return nil, fmt.Errorf("app: finder: %w", err)
		}
	}

	sess, err := d.discordSession(cfg, discord.FinderIntents)
	if err != nil {
		_ = b.Shutdown(ctx)
		return nil, fmt.Errorf("app: finder: %w", err)
	}

	f.search = search.New(b.store, f.cache,
		search.WithLimits(cfg.Search.DefaultLimit, cfg.Search.MaxLimit),
		search.WithTTL(cfg.Cache.TTL),
		search.WithErrorTTL(cfg.Search.ErrorTTL),
		search.WithMetrics(b.metrics),
	)
	f.relay = discord.NewRelay(sess, cfg.Discord.RelayChannelID)
	f.bot = discord.NewBot(sess, discord.WithGuild(cfg.Discord.GuildID))
	commands.NewFindCommands(f.bot.Router(), f.search, f.relay, cfg.Search.MaxLimit)
	commands.NewStatsCommands(f.bot.Router(), b.store)

	slog.Info("finder initialised", "default_limit", cfg.Search.DefaultLimit, "max_limit", cfg.Search.MaxLimit)
	return f, nil
}

func (f *Finder) openCache(ctx context.Context) error {
	if f.cfg.Cache.RedisAddr == "" {
		slog.Warn("no redis address configured, caching search results in memory")
		f.cache = cache.NewMemory()
		return nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     f.cfg.Cache.RedisAddr,
		Password: f.cfg.Cache.RedisPassword,
		DB:       f.cfg.Cache.RedisDB,
	})
	if err != nil {
		return err
	}
	f.closers = append(f.closers, rc.Close)
	f.cache = rc
	return nil
}

// Search exposes the search service for one-shot callers.
func (f *Finder) Search() *search.Service {
	return f.search
}

// Handler returns the HTTP surface: health, status, metrics and search.
func (f *Finder) Handler() http.Handler {
	mux := http.NewServeMux()
	f.healthHandler(health.Checker{Name: "cache", Check: f.cache.Ping}).Register(mux)
	registerStatus(mux, f.store)
	registerSearch(mux, f.search)
	mux.Handle("GET /metrics", observe.Handler())
	return observe.Middleware(f.metrics)(mux)
}

// Run starts the gateway session and the HTTP listener and blocks until ctx
// is cancelled or either fails.
func (f *Finder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return f.bot.Run(ctx) })
	g.Go(func() error { return serveHTTP(ctx, f.cfg.Server.ListenAddr, f.Handler()) })
	g.Go(func() error {
		select {
		case <-f.bot.Ready():
			f.ready.Set(true)
		case <-ctx.Done():
		}
		return nil
	})

	return g.Wait()
}
