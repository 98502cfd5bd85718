// Package search answers free-text lookups against the track catalog.
//
// [Service.Search] normalizes the query, counts it, consults the cache and
// falls back to the catalog's fuzzy matcher on a miss, writing the fresh
// result back to the cache (cache-aside). Every failure is contained at the
// request boundary: the caller receives an empty, short-lived result instead
// of an error.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/sonichunter/internal/catalog"
	"github.com/MrWong99/sonichunter/internal/observe"
	"github.com/MrWong99/sonichunter/internal/resilience"
)

// KeyPrefix prefixes every cache key written by the service.
const KeyPrefix = "search:"

// Defaults applied by [New].
const (
	DefaultLimit    = 20
	DefaultMaxLimit = 50
	DefaultTTL      = 300 * time.Second
	DefaultErrorTTL = time.Second
)

// Catalog is the part of the catalog store the search path needs.
type Catalog interface {
	FuzzySearch(ctx context.Context, normalizedQuery string, limit int) ([]catalog.Track, error)
	IncrementQueryStat(ctx context.Context, normalizedQuery string) error
}

// Cache is the part of the cache layer the search path needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Result is the answer to one search.
type Result struct {
	// Tracks are ordered most similar first. Never nil.
	Tracks []catalog.Track

	// CacheHit reports whether Tracks came from the cache.
	CacheHit bool

	// ClientTTL is how long a client may reuse this answer. Degraded answers
	// carry the short error TTL so clients retry soon.
	ClientTTL time.Duration

	// Degraded is set when a dependency failed and Tracks is a placeholder.
	Degraded bool
}

// Service implements the search path. It is safe for concurrent use.
type Service struct {
	catalog Catalog
	cache   Cache

	defaultLimit int
	maxLimit     int
	ttl          time.Duration
	errorTTL     time.Duration

	catalogBreaker *resilience.Breaker
	cacheBreaker   *resilience.Breaker
	metrics        *observe.Metrics
	now            func() time.Time
}

// Option configures a [Service].
type Option func(*Service)

// WithLimits sets the default and maximum result counts.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// WithTTL sets the cache entry lifetime, which is also the client TTL of
// successful answers.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithErrorTTL sets the client TTL of degraded answers.
func WithErrorTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.errorTTL = ttl
		}
	}
}

// WithBreakers replaces the per-dependency circuit breakers.
func WithBreakers(catalogBreaker, cacheBreaker *resilience.Breaker) Option {
	return func(s *Service) {
		s.catalogBreaker = catalogBreaker
		s.cacheBreaker = cacheBreaker
	}
}

// WithMetrics records search metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a [Service].
func New(cat Catalog, c Cache, opts ...Option) *Service {
	s := &Service{
		catalog:      cat,
		cache:        c,
		defaultLimit: DefaultLimit,
		maxLimit:     DefaultMaxLimit,
		ttl:          DefaultTTL,
		errorTTL:     DefaultErrorTTL,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}
	if s.catalogBreaker == nil {
		s.catalogBreaker = resilience.New(resilience.Config{Name: "catalog"})
	}
	if s.cacheBreaker == nil {
		s.cacheBreaker = resilience.New(resilience.Config{Name: "cache"})
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// CacheKey returns the cache key for a normalized query.
func CacheKey(normalizedQuery string) string {
	return KeyPrefix + normalizedQuery
}

// ClampLimit maps a requested limit onto [1, max], substituting the default
// for non-positive values.
func (s *Service) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return min(limit, s.maxLimit)
}

// Search answers rawQuery with at most limit tracks (see [Service.ClampLimit]).
//
// A blank query returns an empty result without touching the catalog or the
// cache. Otherwise the query counter is incremented before the cache is
// consulted, so repeated identical queries are always counted.
func (s *Service) Search(ctx context.Context, rawQuery string, limit int) Result {
	start := s.now()
	if strings.TrimSpace(rawQuery) == "" {
		s.metrics.RecordSearch(ctx, "empty", s.now().Sub(start))
		return Result{Tracks: []catalog.Track{}, ClientTTL: s.ttl}
	}

	ctx, span := observe.StartSpan(ctx, "search.Search")
	res, outcome, err := s.search(ctx, catalog.NormalizeQuery(rawQuery), s.ClampLimit(limit))
	observe.EndSpan(span, err)
	s.metrics.RecordSearch(ctx, outcome, s.now().Sub(start))

	if err != nil {
		observe.Logger(ctx).Warn("search failed",
			"query", rawQuery,
			"breaker_open", errors.Is(err, resilience.ErrOpen),
			"err", err,
		)
		return Result{Tracks: []catalog.Track{}, ClientTTL: s.errorTTL, Degraded: true}
	}
	return res
}

func (s *Service) search(ctx context.Context, norm string, limit int) (Result, string, error) {
	err := s.catalogBreaker.Do(ctx, func(ctx context.Context) error {
		return s.catalog.IncrementQueryStat(ctx, norm)
	})
	if err != nil {
		return Result{}, "error", err
	}

	key := CacheKey(norm)
	var (
		raw []byte
		hit bool
	)
	err = s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, hit, err = s.cache.Get(ctx, key)
		return err
	})
	if err != nil {
		return Result{}, "error", err
	}

	if hit {
		if tracks, ok := s.fromPayload(ctx, key, raw, limit); ok {
			return Result{Tracks: tracks, CacheHit: true, ClientTTL: s.ttl}, "hit", nil
		}
	}

	var tracks []catalog.Track
	err = s.catalogBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		tracks, err = s.catalog.FuzzySearch(ctx, norm, limit)
		return err
	})
	if err != nil {
		return Result{}, "error", err
	}
	if tracks == nil {
		tracks = []catalog.Track{}
	}

	s.store(ctx, key, limit, tracks)
	return Result{Tracks: tracks, ClientTTL: s.ttl}, "miss", nil
}

// fromPayload decodes a cached document and reports whether it can answer a
// request for limit tracks. A document fetched with a smaller limit can still
// answer when it holds fewer tracks than it asked for, since that was every
// match.
func (s *Service) fromPayload(ctx context.Context, key string, raw []byte, limit int) ([]catalog.Track, bool) {
	cachedLimit, tracks, err := DecodePayload(raw)
	if err != nil {
		observe.Logger(ctx).Debug("discarding cache entry", "key", key, "err", err)
		return nil, false
	}
	if cachedLimit < limit && len(tracks) >= cachedLimit {
		return nil, false
	}
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, true
}

// store writes the result back. Failures are logged and counted; the fresh
// result is returned to the caller either way.
func (s *Service) store(ctx context.Context, key string, limit int, tracks []catalog.Track) {
	b, err := EncodePayload(limit, tracks)
	if err == nil {
		err = s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
			return s.cache.Set(ctx, key, b, s.ttl)
		})
	}
	if err != nil {
		s.metrics.CacheWriteFailures.Add(ctx, 1)
		observe.Logger(ctx).LogAttrs(ctx, slog.LevelWarn, "cache write failed",
			slog.String("key", key),
			slog.Any("err", err),
		)
	}
}
