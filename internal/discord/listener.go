package discord

import (
	"errors"
	"log/slog"
	"math"
	"path"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonichunter/internal/ingest"
)

// audioExtensions lists filename extensions treated as audio when Discord
// sends no content type.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".wma":  true,
	".aif":  true,
	".aiff": true,
	".alac": true,
}

// IsAudio reports whether a is an audio attachment.
func IsAudio(a *discordgo.MessageAttachment) bool {
	if a == nil {
		return false
	}
	ct := strings.ToLower(a.ContentType)
	if strings.HasPrefix(ct, "audio/") {
		return true
	}
	return audioExtensions[strings.ToLower(path.Ext(a.Filename))]
}

// ToMessage converts m into an ingestion event. Only the first audio
// attachment is carried; Audio is nil when there is none.
func ToMessage(m *discordgo.Message) ingest.Message {
	msg := ingest.Message{ChannelID: m.ChannelID, MessageID: m.ID}
	for _, a := range m.Attachments {
		if !IsAudio(a) {
			continue
		}
		artist, title := ingest.ParseFilename(a.Filename)
		msg.Audio = &ingest.Audio{
			AttachmentID: a.ID,
			URL:          a.URL,
			Filename:     a.Filename,
			ContentType:  a.ContentType,
			Size:         int64(a.Size),
			Performer:    artist,
			Title:        title,

			// Discord reports a duration for voice messages only.
			DurationSeconds: int(math.Round(a.DurationSecs)),
		}
		break
	}
	return msg
}

// Dispatcher accepts live ingestion events without blocking.
type Dispatcher interface {
	Dispatch(msg ingest.Message) error
}

// Listener forwards audio messages posted in monitored channels to the
// ingestion pipeline. The relay channel is never monitored.
type Listener struct {
	dispatcher     Dispatcher
	relayChannelID string
	monitored      map[string]bool
}

// NewListener creates a Listener for the given channels.
func NewListener(d Dispatcher, relayChannelID string, monitored []string) *Listener {
	l := &Listener{
		dispatcher:     d,
		relayChannelID: relayChannelID,
		monitored:      make(map[string]bool, len(monitored)),
	}
	for _, id := range monitored {
		if id != relayChannelID {
			l.monitored[id] = true
		}
	}
	return l
}

// Monitors reports whether channelID is watched.
func (l *Listener) Monitors(channelID string) bool {
	return l.monitored[channelID]
}

// Handle inspects one gateway message. Messages outside the monitored set
// and messages without audio are ignored here so they never occupy a queue
// slot.
func (l *Listener) Handle(m *discordgo.Message) {
	if !l.Monitors(m.ChannelID) {
		return
	}
	msg := ToMessage(m)
	if msg.Audio == nil {
		return
	}
	if err := l.dispatcher.Dispatch(msg); err != nil && !errors.Is(err, ingest.ErrQueueFull) {
		slog.Warn("discord: dispatch live message",
			"channel_id", msg.ChannelID,
			"message_id", msg.MessageID,
			"err", err,
		)
	}
}
