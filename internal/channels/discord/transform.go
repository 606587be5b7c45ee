package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/sessions"
)

// Discard reasons produced by Normalize.
const (
	DiscardNoMessage = "no message payload"
	DiscardOwnEcho   = "own message echo"
	DiscardNoContent = "no text content"
)

// Normalize maps a Discord message-create event to the canonical inbound
// message. Messages from the bot itself are discarded so replies never loop
// back in as input.
func Normalize(m *discordgo.MessageCreate, botID string, receivedAt time.Time) (*bus.InboundMessage, string) {
	if m == nil || m.Message == nil || m.Author == nil {
		return nil, DiscardNoMessage
	}
	if m.Author.ID == botID || m.Author.Bot {
		return nil, DiscardOwnEcho
	}
	if m.Content == "" {
		return nil, DiscardNoContent
	}

	return &bus.InboundMessage{
		Channel:    "discord",
		SessionKey: sessions.BuildKey("discord", m.ChannelID),
		Content:    m.Content,
		Sender: bus.Sender{
			ID:       m.Author.ID,
			Name:     m.Author.GlobalName,
			Username: m.Author.Username,
		},
		Destination: bus.Destination{
			ChatID:    m.ChannelID,
			MessageID: m.ID,
		},
		ChannelMeta: map[string]string{
			"guild_id": m.GuildID,
		},
		ReceivedAt: receivedAt,
	}, ""
}
