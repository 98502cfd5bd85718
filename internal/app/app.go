// Package app wires the SonicHunter subsystems into the two long-running
// processes.
//
// [Spider] owns the ingestion side: Discord listener, relay and pipeline.
// [Finder] owns the lookup side: search service, cache and slash commands.
// Each is constructed once at startup, runs until its context is cancelled
// and then tears down in order with Shutdown. Both share only the catalog.
//
// For testing, inject doubles via functional options (WithStore,
// WithSession, WithCache). When an option is not provided, the constructor
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonichunter/internal/cache"
	"github.com/MrWong99/sonichunter/internal/catalog"
	"github.com/MrWong99/sonichunter/internal/config"
	"github.com/MrWong99/sonichunter/internal/discord"
	"github.com/MrWong99/sonichunter/internal/health"
	"github.com/MrWong99/sonichunter/internal/observe"
)

// Store is the catalog contract plus schema migration.
type Store interface {
	catalog.Store
	Migrate(ctx context.Context) error
}

// Option is a functional option for [NewSpider], [NewFinder] and
// [OpenStore]. Use these to inject test doubles.
type Option func(*deps)

type deps struct {
	store   Store
	cache   cache.Cache
	session discord.Session
	metrics *observe.Metrics
	client  *http.Client
}

// WithStore injects a catalog store instead of connecting to PostgreSQL.
func WithStore(s Store) Option {
	return func(d *deps) { d.store = s }
}

// WithCache injects a search cache instead of connecting to Redis.
func WithCache(c cache.Cache) Option {
	return func(d *deps) { d.cache = c }
}

// WithSession injects a Discord session instead of dialing the gateway.
func WithSession(s discord.Session) Option {
	return func(d *deps) { d.session = s }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *deps) { d.metrics = m }
}

// WithHTTPClient downloads attachments with c.
func WithHTTPClient(c *http.Client) Option {
	return func(d *deps) { d.client = c }
}

// base holds what both processes share: the catalog, the readiness gate
// and the ordered list of closers.
type base struct {
	cfg     *config.Config
	store   Store
	metrics *observe.Metrics
	ready   health.Flag

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

func newBase(ctx context.Context, cfg *config.Config, role config.Role, d *deps) (*base, error) {
	b := &base{cfg: cfg, metrics: d.metrics}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}

	if d.store != nil {
		b.store = d.store
		return b, nil
	}
	if cfg.Catalog.PostgresDSN == "" {
		slog.Warn("catalog.postgres_dsn is empty; using the in-process catalog, which is neither persisted nor shared", "role", role)
		b.store = catalog.NewMemStore()
		return b, nil
	}
	minConns, maxConns := cfg.Catalog.PoolSize(role)
	pool, err := catalog.NewPool(ctx, cfg.Catalog.PostgresDSN, minConns, maxConns)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() error {
		pool.Close()
		return nil
	})
	b.store = catalog.NewPostgresStore(pool)
	slog.Info("catalog connected", "role", role, "min_conns", minConns, "max_conns", maxConns)
	return b, nil
}

// OpenStore connects the catalog for one-shot commands. The returned close
// function releases the pool.
func OpenStore(ctx context.Context, cfg *config.Config, opts ...Option) (Store, func() error, error) {
	d := &deps{}
	for _, o := range opts {
		o(d)
	}
	b, err := newBase(ctx, cfg, config.RoleTool, d)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open catalog: %w", err)
	}
	return b.store, func() error { return b.Shutdown(context.Background()) }, nil
}

// discordSession returns the injected session or dials a new one.
func (d *deps) discordSession(cfg *config.Config, intents discordgo.Intent) (discord.Session, error) {
	if d.session != nil {
		return d.session, nil
	}
	return discord.NewSession(cfg.Discord.Token, intents)
}

// healthHandler builds the readiness checks shared by both processes.
func (b *base) healthHandler(extra ...health.Checker) *health.Handler {
	checks := []health.Checker{
		{Name: "catalog", Check: b.store.Ping},
		b.ready.Checker("discord"),
	}
	return health.New(append(checks, extra...)...)
}

// Shutdown runs the closers in order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (b *base) Shutdown(ctx context.Context) error {
	var shutdownErr error
	b.stopOnce.Do(func() {
		b.ready.Set(false)
		slog.Debug("shutting down", "closers", len(b.closers))

		var errs []error
		for i, closer := range b.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(b.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}

// serveHTTP serves h on addr until ctx is cancelled, then shuts the server
// down gracefully. An empty addr disables the listener.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("http listener started", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: http listener: %w", err)
	}
	return nil
}
