// Package ingest turns observed channel messages into catalog tracks.
//
// Each event moves through Observed → MetadataExtracted → Resolved →
// Persisted, or is dropped. Live events are queued per channel and processed
// serially within a channel; historical backfill walks a bounded window of
// each channel's history, newest first, pacing resolutions with a
// per-channel token bucket. Failures are contained per message.
package ingest

import (
	"context"
	"errors"
)

// ErrResolution marks a failure to obtain a resolved reference for an
// artifact. Resolvers wrap their errors with it.
var ErrResolution = errors.New("resolution failed")

// Audio is an audio attachment observed on a message.
type Audio struct {
	AttachmentID string
	URL          string
	Filename     string
	ContentType  string
	Size         int64

	// Performer and Title come from platform metadata or the filename and
	// may be empty.
	Performer string
	Title     string

	DurationSeconds int
}

// Message is a channel message reduced to what the pipeline needs. Audio is
// nil when the message carries no audio.
type Message struct {
	ChannelID string
	MessageID string
	Audio     *Audio
}

// Resolver obtains a stable, servable reference for a message's audio.
// Errors wrap [ErrResolution].
type Resolver interface {
	Resolve(ctx context.Context, msg Message) (ref string, err error)
}

// History enumerates a channel's past messages, newest first, calling visit
// for at most limit of them. It stops early when visit returns an error and
// returns that error.
type History interface {
	Walk(ctx context.Context, channelID string, limit int, visit func(context.Context, Message) error) error
}

// Outcome is the terminal state of one event.
type Outcome int

const (
	// Ignored: the message has no audio.
	Ignored Outcome = iota

	// Skipped: the source message is already catalogued; nothing was relayed.
	Skipped

	// Inserted: a new track was written.
	Inserted

	// Duplicate: the resolved reference was already catalogued.
	Duplicate

	// Dropped: resolution or persistence failed; the event is abandoned.
	Dropped
)

// String returns the lower-case outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Skipped:
		return "skipped"
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}
