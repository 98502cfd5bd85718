package catalog

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// DefaultMatchThreshold is the minimum Jaro-Winkler score a candidate needs
// to be returned by [MemStore.FuzzySearch].
const DefaultMatchThreshold = 0.80

// MemStore is an in-process [Store] for development and tests. Ranking uses
// Jaro-Winkler similarity instead of trigrams, so scores differ from
// [PostgresStore] but the contract (dedup on resolved reference, most similar
// first, deterministic tie break) is the same.
//
// All methods are safe for concurrent use.
type MemStore struct {
	mu        sync.RWMutex
	tracks    []Track
	byRef     map[string]int64
	bySource  map[[2]string]struct{}
	stats     map[string]*QueryStat
	nextID    int64
	threshold float64
	now       func() time.Time
}

var _ Store = (*MemStore)(nil)

// MemStoreOption configures a [MemStore].
type MemStoreOption func(*MemStore)

// WithMatchThreshold overrides [DefaultMatchThreshold].
func WithMatchThreshold(th float64) MemStoreOption {
	return func(m *MemStore) { m.threshold = th }
}

// NewMemStore returns an empty [MemStore].
func NewMemStore(opts ...MemStoreOption) *MemStore {
	m := &MemStore{
		byRef:     make(map[string]int64),
		bySource:  make(map[[2]string]struct{}),
		stats:     make(map[string]*QueryStat),
		threshold: DefaultMatchThreshold,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// UpsertTrackIfAbsent implements [Store].
func (m *MemStore) UpsertTrackIfAbsent(ctx context.Context, t Track) (InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validate(t); err != nil {
		return 0, err
	}
	t = WithDefaults(t)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byRef[t.ResolvedRef]; ok {
		return AlreadyPresent, nil
	}
	source := [2]string{t.SourceChannelID, t.SourceMessageID}
	if _, ok := m.bySource[source]; ok && t.SourceMessageID != "" {
		return AlreadyPresent, nil
	}
	m.nextID++
	t.ID = m.nextID
	m.tracks = append(m.tracks, t)
	m.byRef[t.ResolvedRef] = t.ID
	m.bySource[source] = struct{}{}
	return Inserted, nil
}

// HasSource implements [Store].
func (m *MemStore) HasSource(ctx context.Context, channelID, messageID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bySource[[2]string{channelID, messageID}]
	return ok, nil
}

// FuzzySearch implements [Store].
func (m *MemStore) FuzzySearch(ctx context.Context, normalizedQuery string, limit int) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(normalizedQuery))
	if q == "" || limit <= 0 {
		return nil, nil
	}

	type scored struct {
		track Track
		score float64
	}

	m.mu.RLock()
	var hits []scored
	for _, t := range m.tracks {
		if s := matchScore(q, t.SearchText()); s >= m.threshold {
			hits = append(hits, scored{track: t, score: s})
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return cmp.Compare(a.track.ID, b.track.ID)
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Track, len(hits))
	for i, h := range hits {
		out[i] = h.track
	}
	return out, nil
}

// matchScore is the best Jaro-Winkler similarity between query and either
// the whole candidate or any run of candidate tokens as long as the query.
func matchScore(query, candidate string) float64 {
	best := matchr.JaroWinkler(query, candidate, false)

	qTokens := strings.Fields(query)
	cTokens := strings.Fields(candidate)
	n := len(qTokens)
	if n == 0 || n > len(cTokens) {
		return best
	}
	for i := 0; i+n <= len(cTokens); i++ {
		window := strings.Join(cTokens[i:i+n], " ")
		if s := matchr.JaroWinkler(query, window, false); s > best {
			best = s
		}
	}
	return best
}

// IncrementQueryStat implements [Store].
func (m *MemStore) IncrementQueryStat(ctx context.Context, normalizedQuery string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	qs, ok := m.stats[normalizedQuery]
	if !ok {
		qs = &QueryStat{Query: normalizedQuery}
		m.stats[normalizedQuery] = qs
	}
	qs.Count++
	qs.LastSearchedAt = m.now()
	return nil
}

// QueryStat returns a copy of the counter row for normalizedQuery, or nil if
// it has never been searched.
func (m *MemStore) QueryStat(_ context.Context, normalizedQuery string) (*QueryStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs, ok := m.stats[normalizedQuery]
	if !ok {
		return nil, nil
	}
	cp := *qs
	return &cp, nil
}

// CountTracks implements [Store].
func (m *MemStore) CountTracks(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.tracks)), nil
}

// SumQueryStatCounts implements [Store].
func (m *MemStore) SumQueryStatCounts(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, qs := range m.stats {
		sum += qs.Count
	}
	return sum, nil
}

// Ping implements [Store]. It never fails.
func (m *MemStore) Ping(context.Context) error { return nil }

// Migrate is a no-op; the in-memory store has no schema.
func (m *MemStore) Migrate(context.Context) error { return nil }
