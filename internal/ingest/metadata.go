package ingest

import (
	"path"
	"strings"

	"github.com/MrWong99/sonichunter/internal/catalog"
)

// ParseFilename derives artist and title from an attachment filename of the
// form "Artist - Title.ext". Without the separator the stem becomes the title
// and artist is empty. Underscores are read as spaces.
func ParseFilename(name string) (artist, title string) {
	stem := strings.TrimSuffix(name, path.Ext(name))
	stem = strings.Join(strings.Fields(strings.ReplaceAll(stem, "_", " ")), " ")
	if a, t, ok := strings.Cut(stem, " - "); ok {
		return strings.TrimSpace(a), strings.TrimSpace(t)
	}
	return "", stem
}

// extract builds the catalog row for msg once ref is known. Absent metadata
// becomes the catalog's sentinel values.
func extract(msg Message, ref string) catalog.Track {
	a := msg.Audio
	return catalog.WithDefaults(catalog.Track{
		ResolvedRef:     ref,
		Artist:          strings.TrimSpace(a.Performer),
		Title:           strings.TrimSpace(a.Title),
		DurationSeconds: a.DurationSeconds,
		FileSizeBytes:   a.Size,
		SourceChannelID: msg.ChannelID,
		SourceMessageID: msg.MessageID,
	})
}
