package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonichunter/internal/ingest"
)

// pageSize is the largest page the messages endpoint returns.
const pageSize = 100

// History reads channel history newest first. It implements
// [ingest.History].
type History struct {
	sess    Session
	backoff backoff
}

var _ ingest.History = (*History)(nil)

// NewHistory creates a History reading through sess.
func NewHistory(sess Session) *History {
	return &History{sess: sess, backoff: defaultBackoff}
}

// Walk pages backwards through channelID with a before cursor and calls
// visit for each message until limit messages were visited, the channel is
// exhausted or visit returns an error.
func (h *History) Walk(ctx context.Context, channelID string, limit int, visit func(context.Context, ingest.Message) error) error {
	before := ""
	visited := 0
	for visited < limit {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := min(pageSize, limit-visited)
		var page []*discordgo.Message
		err := h.backoff.retry(ctx, "channel messages", func() error {
			var err error
			page, err = h.sess.ChannelMessages(channelID, n, before, "", "", discordgo.WithContext(ctx))
			return err
		})
		if err != nil {
			return fmt.Errorf("discord: read history of %s: %w", channelID, err)
		}

		for _, m := range page {
			if m.ChannelID == "" {
				m.ChannelID = channelID
			}
			if err := visit(ctx, ToMessage(m)); err != nil {
				return err
			}
			visited++
			if visited >= limit {
				return nil
			}
		}
		if len(page) < n {
			return nil
		}
		before = page[len(page)-1].ID
	}
	return nil
}
