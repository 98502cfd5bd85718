// Package catalog defines the durable track catalog shared by the ingestion
// pipeline and the search service, together with its PostgreSQL and in-memory
// implementations.
//
// A [Track] is written exactly once, keyed by its resolved reference; later
// sightings of the same reference are absorbed as [AlreadyPresent]. Query
// popularity is tracked per normalized query string in [QueryStat] rows.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel display values used when the source carries no metadata.
const (
	UnknownArtist = "Unknown Artist"
	UnknownTitle  = "Unknown Title"
)

// ErrUnavailable wraps I/O failures talking to the backing store.
var ErrUnavailable = errors.New("catalog unavailable")

// ErrInvalidTrack is returned when a track is missing its resolved reference.
var ErrInvalidTrack = errors.New("track has no resolved reference")

// Track is a catalogued audio artifact.
type Track struct {
	ID              int64
	ResolvedRef     string
	Artist          string
	Title           string
	DurationSeconds int
	FileSizeBytes   int64
	SourceChannelID string
	SourceMessageID string
}

// SearchText returns the text the fuzzy matcher compares against: artist and
// title joined by a single space, lower-cased.
func (t Track) SearchText() string {
	return strings.ToLower(t.Artist + " " + t.Title)
}

// QueryStat is the popularity counter for one normalized query string.
type QueryStat struct {
	Query          string
	Count          int64
	LastSearchedAt time.Time
}

// InsertResult reports what [Store.UpsertTrackIfAbsent] did.
type InsertResult int

const (
	// Inserted means a new row was created.
	Inserted InsertResult = iota

	// AlreadyPresent means a track with the same resolved reference exists;
	// nothing was written.
	AlreadyPresent
)

// String returns the lower-case name of the result.
func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// Store is the full catalog contract. Consumers should depend on the narrower
// interfaces they need; the ingestion and search packages each declare their
// own.
type Store interface {
	// UpsertTrackIfAbsent inserts t unless a track with the same resolved
	// reference or the same non-empty source message exists. t.ID is ignored.
	UpsertTrackIfAbsent(ctx context.Context, t Track) (InsertResult, error)

	// HasSource reports whether a track first observed at the given source
	// message is already catalogued.
	HasSource(ctx context.Context, channelID, messageID string) (bool, error)

	// FuzzySearch returns at most limit tracks ordered by descending
	// similarity to normalizedQuery.
	FuzzySearch(ctx context.Context, normalizedQuery string, limit int) ([]Track, error)

	// IncrementQueryStat bumps the counter for normalizedQuery, creating the
	// row on first use.
	IncrementQueryStat(ctx context.Context, normalizedQuery string) error

	CountTracks(ctx context.Context) (int64, error)
	SumQueryStatCounts(ctx context.Context) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// NormalizeQuery trims q, lower-cases it and collapses runs of whitespace to a
// single space. The result is used as both cache key suffix and stat key.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// WithDefaults returns t with sentinel artist/title and non-negative numbers.
func WithDefaults(t Track) Track {
	if strings.TrimSpace(t.Artist) == "" {
		t.Artist = UnknownArtist
	}
	if strings.TrimSpace(t.Title) == "" {
		t.Title = UnknownTitle
	}
	if t.DurationSeconds < 0 {
		t.DurationSeconds = 0
	}
	if t.FileSizeBytes < 0 {
		t.FileSizeBytes = 0
	}
	return t
}

func validate(t Track) error {
	if strings.TrimSpace(t.ResolvedRef) == "" {
		return ErrInvalidTrack
	}
	return nil
}

// Stats is the catalog-wide summary served by the status endpoint and the
// stats command.
type Stats struct {
	TrackCount    int64 `json:"track_count"`
	TotalSearches int64 `json:"total_searches"`
}

// Counter is the read side needed to build [Stats].
type Counter interface {
	CountTracks(ctx context.Context) (int64, error)
	SumQueryStatCounts(ctx context.Context) (int64, error)
}

// ReadStats collects [Stats] from c.
func ReadStats(ctx context.Context, c Counter) (Stats, error) {
	tracks, err := c.CountTracks(ctx)
	if err != nil {
		return Stats{}, err
	}
	searches, err := c.SumQueryStatCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TrackCount: tracks, TotalSearches: searches}, nil
}
