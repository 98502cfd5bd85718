package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Mock DB types.
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return assign(r.data[r.idx-1], dest)
}

// assign copies row values into scan destinations.
func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	pingErr      error
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) Ping(context.Context) error { return m.pingErr }

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	for _, want := range []string{"pg_trgm", "resolved_ref", "gin_trgm_ops", "query_stats"} {
		if !strings.Contains(gotSQL, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestPostgresStore_UpsertTrackIfAbsent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		track   Track
		scanErr error
		want    InsertResult
		wantErr error
	}{
		{
			name:  "inserted",
			track: Track{ResolvedRef: "r/1/a", Artist: "DJ Overdose", Title: "Zigzag"},
			want:  Inserted,
		},
		{
			name:    "conflict returns no row",
			track:   Track{ResolvedRef: "r/1/a"},
			scanErr: pgx.ErrNoRows,
			want:    AlreadyPresent,
		},
		{
			name:    "driver error",
			track:   Track{ResolvedRef: "r/1/a"},
			scanErr: errors.New("connection reset"),
			wantErr: ErrUnavailable,
		},
		{
			name:    "empty ref rejected",
			track:   Track{Artist: "x"},
			wantErr: ErrInvalidTrack,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var gotArgs []any
			db := &mockDB{
				queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
					if !strings.Contains(sql, "ON CONFLICT DO NOTHING") {
						t.Errorf("unexpected SQL: %s", sql)
					}
					gotArgs = args
					return &mockRow{scanFunc: func(dest ...any) error {
						if tc.scanErr != nil {
							return tc.scanErr
						}
						return assign([]any{int64(42)}, dest)
					}}
				},
			}

			got, err := NewPostgresStore(db).UpsertTrackIfAbsent(context.Background(), tc.track)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("result = %v, want %v", got, tc.want)
			}
			if len(gotArgs) != 7 {
				t.Fatalf("got %d args, want 7", len(gotArgs))
			}
		})
	}
}

func TestPostgresStore_UpsertAppliesSentinels(t *testing.T) {
	t.Parallel()

	var gotArgs []any
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			gotArgs = args
			return &mockRow{scanFunc: func(dest ...any) error { return assign([]any{int64(1)}, dest) }}
		},
	}
	_, err := NewPostgresStore(db).UpsertTrackIfAbsent(context.Background(), Track{ResolvedRef: "r", DurationSeconds: -5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotArgs[1] != UnknownArtist || gotArgs[2] != UnknownTitle {
		t.Errorf("artist/title = %v/%v, want sentinels", gotArgs[1], gotArgs[2])
	}
	if gotArgs[3] != 0 {
		t.Errorf("duration = %v, want 0", gotArgs[3])
	}
}

func TestPostgresStore_FuzzySearch(t *testing.T) {
	t.Parallel()

	rows := &mockRows{data: [][]any{
		{int64(1), "r/1/a", "DJ Overdose", "Zigzag", 180, int64(1024), "c1", "m1"},
		{int64(2), "r/2/b", "DJ Overdose", "Zigzag (Edit)", 0, int64(0), "c1", "m2"},
	}}
	var gotSQL string
	var gotArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotSQL, gotArgs = sql, args
			return rows, nil
		},
	}

	got, err := NewPostgresStore(db).FuzzySearch(context.Background(), "zigzag", 5)
	if err != nil {
		t.Fatalf("FuzzySearch: %v", err)
	}
	if len(got) != 2 || got[0].ResolvedRef != "r/1/a" || got[1].ID != 2 {
		t.Errorf("got %+v", got)
	}
	if got[0].DurationSeconds != 180 || got[0].FileSizeBytes != 1024 {
		t.Errorf("numeric fields not scanned: %+v", got[0])
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
	if !strings.Contains(gotSQL, "DESC") || !strings.Contains(gotSQL, "id ASC") || !strings.Contains(gotSQL, "%") {
		t.Errorf("unexpected SQL: %s", gotSQL)
	}
	if gotArgs[0] != "zigzag" || gotArgs[1] != 5 {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestPostgresStore_FuzzySearchShortCircuits(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			t.Error("query issued")
			return &mockRows{}, nil
		},
	}
	s := NewPostgresStore(db)
	for _, tc := range []struct {
		q     string
		limit int
	}{{"", 10}, {"abc", 0}, {"abc", -1}} {
		got, err := s.FuzzySearch(context.Background(), tc.q, tc.limit)
		if err != nil || got != nil {
			t.Errorf("FuzzySearch(%q, %d) = %v, %v", tc.q, tc.limit, got, err)
		}
	}
}

func TestPostgresStore_FuzzySearchErrors(t *testing.T) {
	t.Parallel()

	t.Run("query error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return nil, errors.New("boom")
		}}
		_, err := NewPostgresStore(db).FuzzySearch(context.Background(), "x", 1)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	})

	t.Run("rows error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{err: errors.New("stream broke")}, nil
		}}
		_, err := NewPostgresStore(db).FuzzySearch(context.Background(), "x", 1)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	})
}

func TestPostgresStore_IncrementQueryStat(t *testing.T) {
	t.Parallel()

	var gotSQL string
	var gotArgs []any
	db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotSQL, gotArgs = sql, args
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).IncrementQueryStat(context.Background(), "dj overdose"); err != nil {
		t.Fatalf("IncrementQueryStat: %v", err)
	}
	if !strings.Contains(gotSQL, "count = query_stats.count + 1") {
		t.Errorf("unexpected SQL: %s", gotSQL)
	}
	if gotArgs[0] != "dj overdose" {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestPostgresStore_Counts(t *testing.T) {
	t.Parallel()

	db := &mockDB{queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			if strings.Contains(sql, "FROM tracks") {
				return assign([]any{int64(7)}, dest)
			}
			return assign([]any{int64(31)}, dest)
		}}
	}}
	s := NewPostgresStore(db)

	n, err := s.CountTracks(context.Background())
	if err != nil || n != 7 {
		t.Errorf("CountTracks = %d, %v; want 7", n, err)
	}
	sum, err := s.SumQueryStatCounts(context.Background())
	if err != nil || sum != 31 {
		t.Errorf("SumQueryStatCounts = %d, %v; want 31", sum, err)
	}
}

func TestPostgresStore_HasSource(t *testing.T) {
	t.Parallel()

	db := &mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			return assign([]any{args[0] == "c1" && args[1] == "m1"}, dest)
		}}
	}}
	s := NewPostgresStore(db)

	if ok, err := s.HasSource(context.Background(), "c1", "m1"); err != nil || !ok {
		t.Errorf("HasSource(c1, m1) = %v, %v; want true", ok, err)
	}
	if ok, err := s.HasSource(context.Background(), "c1", "m2"); err != nil || ok {
		t.Errorf("HasSource(c1, m2) = %v, %v; want false", ok, err)
	}
}

func TestPostgresStore_QueryStatMissing(t *testing.T) {
	t.Parallel()

	qs, err := NewPostgresStore(&mockDB{}).QueryStat(context.Background(), "nothing")
	if err != nil || qs != nil {
		t.Errorf("QueryStat = %v, %v; want nil, nil", qs, err)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	t.Parallel()

	if err := NewPostgresStore(&mockDB{}).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	err := NewPostgresStore(&mockDB{pingErr: errors.New("refused")}).Ping(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
