package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL with the pg_trgm extension.
// Every mutation is a single statement; no application-level locking is
// needed for concurrent writers.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over db. Call
// [PostgresStore.Migrate] before issuing queries against a fresh database.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPool opens a pgx connection pool bounded by minConns and maxConns and
// verifies connectivity. Non-positive bounds keep the pgxpool defaults.
func NewPool(ctx context.Context, dsn string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = min(minConns, cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// UpsertTrackIfAbsent implements [Store]. A conflict on resolved_ref or on
// the source message returns no row and is reported as [AlreadyPresent].
func (s *PostgresStore) UpsertTrackIfAbsent(ctx context.Context, t Track) (InsertResult, error) {
	if err := validate(t); err != nil {
		return 0, fmt.Errorf("catalog: upsert track: %w", err)
	}
	t = WithDefaults(t)

	const query = `
		INSERT INTO tracks (
			resolved_ref, artist, title, duration_seconds, file_size_bytes,
			source_channel_id, source_message_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		t.ResolvedRef, t.Artist, t.Title, t.DurationSeconds, t.FileSizeBytes,
		t.SourceChannelID, t.SourceMessageID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AlreadyPresent, nil
		}
		return 0, unavailable("upsert track", err)
	}
	return Inserted, nil
}

// HasSource implements [Store].
func (s *PostgresStore) HasSource(ctx context.Context, channelID, messageID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM tracks
			WHERE source_channel_id = $1 AND source_message_id = $2
		)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, channelID, messageID).Scan(&exists); err != nil {
		return false, unavailable("has source", err)
	}
	return exists, nil
}

// FuzzySearch implements [Store] with the pg_trgm % operator. Ties in
// similarity are broken by ascending id so repeated queries are stable.
func (s *PostgresStore) FuzzySearch(ctx context.Context, normalizedQuery string, limit int) ([]Track, error) {
	if normalizedQuery == "" || limit <= 0 {
		return nil, nil
	}

	const query = `
		SELECT id, resolved_ref, artist, title, duration_seconds, file_size_bytes,
		       source_channel_id, source_message_id
		FROM tracks
		WHERE lower(coalesce(artist, '') || ' ' || coalesce(title, '')) % lower($1)
		ORDER BY similarity(lower(coalesce(artist, '') || ' ' || coalesce(title, '')), lower($1)) DESC,
		         id ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, normalizedQuery, limit)
	if err != nil {
		return nil, unavailable("fuzzy search", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(
			&t.ID, &t.ResolvedRef, &t.Artist, &t.Title, &t.DurationSeconds, &t.FileSizeBytes,
			&t.SourceChannelID, &t.SourceMessageID,
		); err != nil {
			return nil, fmt.Errorf("catalog: fuzzy search scan: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("fuzzy search", err)
	}
	return tracks, nil
}

// IncrementQueryStat implements [Store] as a single atomic upsert.
func (s *PostgresStore) IncrementQueryStat(ctx context.Context, normalizedQuery string) error {
	const query = `
		INSERT INTO query_stats (query, count, last_searched_at)
		VALUES ($1, 1, now())
		ON CONFLICT (query) DO UPDATE SET
			count = query_stats.count + 1,
			last_searched_at = now()`

	if _, err := s.db.Exec(ctx, query, normalizedQuery); err != nil {
		return unavailable("increment query stat", err)
	}
	return nil
}

// QueryStat returns the counter row for normalizedQuery. It returns
// (nil, nil) when the query has never been searched.
func (s *PostgresStore) QueryStat(ctx context.Context, normalizedQuery string) (*QueryStat, error) {
	const query = `SELECT query, count, last_searched_at FROM query_stats WHERE query = $1`

	var qs QueryStat
	err := s.db.QueryRow(ctx, query, normalizedQuery).Scan(&qs.Query, &qs.Count, &qs.LastSearchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("query stat", err)
	}
	return &qs, nil
}

// CountTracks implements [Store].
func (s *PostgresStore) CountTracks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, unavailable("count tracks", err)
	}
	return n, nil
}

// SumQueryStatCounts implements [Store]. An empty table sums to zero.
func (s *PostgresStore) SumQueryStatCounts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(count), 0)::BIGINT FROM query_stats`).Scan(&n); err != nil {
		return 0, unavailable("sum query stats", err)
	}
	return n, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("catalog: %s: %w: %w", op, ErrUnavailable, err)
}
