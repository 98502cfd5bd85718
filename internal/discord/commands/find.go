// Package commands implements the SonicHunter slash command handlers.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonichunter/internal/catalog"
	"github.com/MrWong99/sonichunter/internal/discord"
	"github.com/MrWong99/sonichunter/internal/search"
)

// Router keys.
const (
	FindCommand   = "find"
	PickComponent = "find_pick"
)

// Discord limits for select menus and embeds.
const (
	maxMenuOptions  = 25
	maxLabelLen     = 100
	maxDescriptionN = 4096
)

// Searcher runs ranked lookups. [*search.Service] satisfies it.
type Searcher interface {
	Search(ctx context.Context, rawQuery string, limit int) search.Result
}

// Fetcher turns a resolved reference into a servable URL.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// FindCommands serves /find and its result picker.
type FindCommands struct {
	searcher Searcher
	fetcher  Fetcher
	maxLimit int
}

// NewFindCommands creates FindCommands and registers its handlers with router.
// maxLimit bounds the limit option shown to users.
func NewFindCommands(router *discord.CommandRouter, s Searcher, f Fetcher, maxLimit int) *FindCommands {
	fc := &FindCommands{searcher: s, fetcher: f, maxLimit: maxLimit}
	router.RegisterCommand(FindCommand, fc.Definition(), fc.handleFind)
	router.RegisterComponent(PickComponent, fc.handlePick)
	return fc
}

// Definition returns the /find application command.
func (fc *FindCommands) Definition() *discordgo.ApplicationCommand {
	minLimit := 1.0
	return &discordgo.ApplicationCommand{
		Name:        FindCommand,
		Description: "Search the track catalog",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "Artist and/or title, typos welcome",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "limit",
				Description: "Maximum number of results",
				MinValue:    &minLimit,
				MaxValue:    float64(fc.maxLimit),
			},
		},
	}
}

func (fc *FindCommands) handleFind(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	var query string
	var limit int
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "query":
			query = opt.StringValue()
		case "limit":
			limit = int(opt.IntValue())
		}
	}

	res := fc.searcher.Search(ctx, query, limit)
	switch {
	case res.Degraded:
		discord.RespondEphemeral(r, i, "Search is temporarily unavailable, please try again shortly.")
		return
	case len(res.Tracks) == 0:
		discord.RespondEphemeral(r, i, fmt.Sprintf("No tracks found for %q.", strings.TrimSpace(query)))
		return
	}

	discord.RespondEmbed(r, i, resultEmbed(query, res.Tracks), pickMenu(res.Tracks))
}

func (fc *FindCommands) handlePick(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		discord.RespondEphemeral(r, i, "Nothing selected.")
		return
	}
	url, err := fc.fetcher.Fetch(ctx, values[0])
	if err != nil {
		discord.RespondError(r, i, "That track could not be retrieved.", err)
		return
	}
	discord.RespondEphemeral(r, i, url)
}

func resultEmbed(query string, tracks []catalog.Track) *discordgo.MessageEmbed {
	var b strings.Builder
	for n, t := range tracks {
		line := fmt.Sprintf("%d. **%s** - %s", n+1, t.Artist, t.Title)
		if t.DurationSeconds > 0 {
			line += " (" + formatDuration(t.DurationSeconds) + ")"
		}
		if b.Len()+len(line)+1 > maxDescriptionN {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Results for %q", strings.TrimSpace(query)),
		Description: b.String(),
		Color:       0x1DB954,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d match(es)", len(tracks))},
	}
}

func pickMenu(tracks []catalog.Track) discordgo.MessageComponent {
	opts := make([]discordgo.SelectMenuOption, 0, min(len(tracks), maxMenuOptions))
	for n, t := range tracks {
		if n == maxMenuOptions {
			break
		}
		opts = append(opts, discordgo.SelectMenuOption{
			Label:       truncate(fmt.Sprintf("%d. %s - %s", n+1, t.Artist, t.Title), maxLabelLen),
			Value:       t.ResolvedRef,
			Description: formatDuration(t.DurationSeconds),
		})
	}
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    PickComponent,
				Placeholder: "Pick a track to play",
				Options:     opts,
			},
		},
	}
}

func formatDuration(secs int) string {
	if secs <= 0 {
		return "unknown length"
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
