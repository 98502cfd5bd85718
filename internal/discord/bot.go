// Package discord provides the Discord layer for SonicHunter. It owns the
// gateway session lifecycle, installs the event registration table, routes
// slash command interactions, turns channel messages into ingestion events,
// reads channel history for backfill and relays audio into the relay channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Event kinds of the registration table returned by [Bot.Events].
const (
	EventReady             = "ready"
	EventMessageCreate     = "message_create"
	EventInteractionCreate = "interaction_create"
)

// interactionTimeout bounds a single interaction handler. Discord expects an
// initial response within three seconds.
const interactionTimeout = 2500 * time.Millisecond

// Intents for the two process roles.
const (
	SpiderIntents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	FinderIntents = discordgo.IntentsGuilds
)

// Bot owns the gateway connection. It forwards channel messages to an
// optional [Listener] and interactions to its [CommandRouter].
type Bot struct {
	sess     Session
	router   *CommandRouter
	listener *Listener
	guildID  string
	backoff  backoff

	mu      sync.RWMutex
	ctx     context.Context
	selfID  string
	appID   string
	ready   chan struct{}
	readyMu sync.Once
	remove  []func()
}

// BotOption configures a [Bot].
type BotOption func(*Bot)

// WithListener forwards message_create events to l.
func WithListener(l *Listener) BotOption {
	return func(b *Bot) { b.listener = l }
}

// WithGuild registers slash commands in guildID only. Empty registers them
// globally.
func WithGuild(guildID string) BotOption {
	return func(b *Bot) { b.guildID = guildID }
}

// NewBot creates a Bot on sess and installs its event handlers.
func NewBot(sess Session, opts ...BotOption) *Bot {
	b := &Bot{
		sess:    sess,
		router:  NewCommandRouter(),
		backoff: defaultBackoff,
		ctx:     context.Background(),
		ready:   make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	events := b.Events()
	kinds := make([]string, 0, len(events))
	for k := range events {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		b.remove = append(b.remove, sess.AddHandler(events[k]))
	}
	return b
}

// Events is the gateway registration table: event kind to discordgo handler.
func (b *Bot) Events() map[string]any {
	return map[string]any{
		EventReady: func(_ *discordgo.Session, r *discordgo.Ready) {
			b.onReady(r)
		},
		EventMessageCreate: func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			b.onMessage(m)
		},
		EventInteractionCreate: func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			b.onInteraction(i)
		},
	}
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// SelfID returns the bot's user ID once the gateway is ready.
func (b *Bot) SelfID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

// Ready is closed once the gateway reported the session ready.
func (b *Bot) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bot) onReady(r *discordgo.Ready) {
	b.mu.Lock()
	if r.User != nil {
		b.selfID = r.User.ID
		b.appID = r.User.ID
	}
	if r.Application != nil && r.Application.ID != "" {
		b.appID = r.Application.ID
	}
	b.mu.Unlock()

	slog.Info("discord gateway ready", "user_id", b.SelfID(), "guilds", len(r.Guilds))
	b.readyMu.Do(func() { close(b.ready) })
}

func (b *Bot) onMessage(m *discordgo.MessageCreate) {
	if b.listener == nil || m.Message == nil {
		return
	}
	if m.Author != nil && (m.Author.ID == b.SelfID() || m.Author.Bot) {
		return
	}
	b.listener.Handle(m.Message)
}

func (b *Bot) onInteraction(i *discordgo.InteractionCreate) {
	b.mu.RLock()
	parent := b.ctx
	b.mu.RUnlock()

	ctx, cancel := context.WithTimeout(parent, interactionTimeout)
	defer cancel()
	b.router.Handle(ctx, b.sess, i)
}

// Run opens the gateway, registers the router's slash commands once the
// session is ready and blocks until ctx is cancelled. The session is closed
// on return.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if err := b.sess.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	defer b.close()

	select {
	case <-b.ready:
	case <-ctx.Done():
		return nil
	}

	if cmds := b.router.ApplicationCommands(); len(cmds) > 0 {
		b.mu.RLock()
		appID := b.appID
		b.mu.RUnlock()

		var registered []*discordgo.ApplicationCommand
		err := b.backoff.retry(ctx, "register commands", func() error {
			var err error
			registered, err = b.sess.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds, discordgo.WithContext(ctx))
			return err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("discord: register commands: %w", err)
		}
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return nil
}

func (b *Bot) close() {
	for _, rm := range b.remove {
		rm()
	}
	if err := b.sess.Close(); err != nil {
		slog.Warn("discord: close session", "err", err)
		return
	}
	slog.Info("discord bot closed")
}
