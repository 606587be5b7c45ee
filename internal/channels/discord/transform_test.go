package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func messageCreate(authorID, channelID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "m1",
			ChannelID: channelID,
			Content:   content,
			Author:    &discordgo.User{ID: authorID, Username: "ada", GlobalName: "Ada"},
		},
	}
}

func TestNormalizeMessage(t *testing.T) {
	msg, discard := Normalize(messageCreate("u1", "ch9", "hello"), "bot1", time.Now())
	if discard != "" {
		t.Fatalf("discarded: %s", discard)
	}
	if msg.SessionKey != "discord-ch9" || msg.Content != "hello" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Destination.ChatID != "ch9" || msg.Destination.MessageID != "m1" {
		t.Errorf("destination = %+v", msg.Destination)
	}
}

func TestNormalizeDiscardsOwnEcho(t *testing.T) {
	_, discard := Normalize(messageCreate("bot1", "ch9", "my own reply"), "bot1", time.Now())
	if discard != DiscardOwnEcho {
		t.Errorf("discard = %q", discard)
	}
}

func TestNormalizeDiscardsBots(t *testing.T) {
	m := messageCreate("u2", "ch9", "beep")
	m.Author.Bot = true
	_, discard := Normalize(m, "bot1", time.Now())
	if discard != DiscardOwnEcho {
		t.Errorf("discard = %q", discard)
	}
}

func TestNormalizeDiscardsEmpty(t *testing.T) {
	_, discard := Normalize(messageCreate("u1", "ch9", ""), "bot1", time.Now())
	if discard != DiscardNoContent {
		t.Errorf("discard = %q", discard)
	}
}
