package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonichunter/internal/catalog"
	"github.com/MrWong99/sonichunter/internal/discord"
)

// StatsCommand is the router key for /stats.
const StatsCommand = "stats"

// StatsCommands serves /stats.
type StatsCommands struct {
	counter catalog.Counter
}

// NewStatsCommands creates StatsCommands and registers its handler with router.
func NewStatsCommands(router *discord.CommandRouter, c catalog.Counter) *StatsCommands {
	sc := &StatsCommands{counter: c}
	router.RegisterCommand(StatsCommand, sc.Definition(), sc.handleStats)
	return sc
}

// Definition returns the /stats application command.
func (sc *StatsCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        StatsCommand,
		Description: "Show catalog size and search volume",
	}
}

func (sc *StatsCommands) handleStats(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	st, err := catalog.ReadStats(ctx, sc.counter)
	if err != nil {
		discord.RespondError(r, i, "Stats are unavailable right now.", err)
		return
	}
	discord.RespondEmbed(r, i, &discordgo.MessageEmbed{
		Title: "SonicHunter stats",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tracks", Value: fmt.Sprintf("%d", st.TrackCount), Inline: true},
			{Name: "Searches", Value: fmt.Sprintf("%d", st.TotalSearches), Inline: true},
		},
	})
}
