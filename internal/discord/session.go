package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3

	baseBackoff = 2 * time.Second
	maxBackoff  = 2 * time.Minute
)

// Session is the subset of *discordgo.Session the bot uses. Tests substitute
// [github.com/MrWong99/sonichunter/internal/discord/mock.Session].
type Session interface {
	Open() error
	Close() error
	AddHandler(handler any) func()
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

var _ Session = (*discordgo.Session)(nil)

// NewSession creates a gateway session for token with the given intents.
// The token may be given with or without the "Bot " prefix.
func NewSession(token string, intents discordgo.Intent) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	if len(token) < 4 || token[:4] != "Bot " {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = intents
	return s, nil
}

// backoff controls retries of rate-limited REST calls.
type backoff struct {
	base time.Duration
	max  time.Duration
}

var defaultBackoff = backoff{base: baseBackoff, max: maxBackoff}

// isRateLimited reports whether err is a Discord REST 429 response.
func isRateLimited(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusTooManyRequests
}

// retry calls fn and retries with exponential backoff while Discord answers
// with HTTP 429. Other errors are returned immediately. It gives up after
// [maxRetries] retries, when ctx is done, or at once when the next wait would
// outlast ctx's deadline.
func (b backoff) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRateLimited(err) || attempt == maxRetries {
			return err
		}

		wait := b.base << attempt
		if wait > b.max || wait <= 0 {
			wait = b.max
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			slog.Warn("discord: rate limited, no time left to retry", "op", op, "wait", wait)
			return err
		}
		slog.Warn("discord: rate limited, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"wait", wait,
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
