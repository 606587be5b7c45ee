// Package discord connects the runtime to Discord using discordgo's gateway
// websocket.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/channels"
	"github.com/lodestarhq/lodestar/internal/config"
)

// Discord caps messages at 2000 chars.
const messageLimit = 2000

// Channel is the Discord handler.
type Channel struct {
	session *discordgo.Session
	cfg     config.DiscordConfig
	events  *bus.Bus
	limiter *channels.SendLimiter
	botID   string
}

func New(cfg config.DiscordConfig, events *bus.Bus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		session: session,
		cfg:     cfg,
		events:  events,
		limiter: channels.NewSendLimiter(1, 3),
	}, nil
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	me, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("discord identify: %w", err)
	}
	c.botID = me.ID
	slog.Info("discord channel started", "bot", me.Username)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	return c.session.Close()
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	msg, discard := Normalize(m, c.botID, time.Now())
	if discard != "" {
		c.events.Publish(ctx, bus.EventMessageUnsupported("discord"), bus.Discard{
			Channel: "discord",
			Reason:  discard,
		})
		return
	}
	if !channels.Allowed(c.cfg.AllowFrom, msg.Sender.ID, msg.Sender.Username) {
		slog.Debug("discord sender not allowed", "sender", msg.Sender.ID)
		return
	}
	c.events.Publish(ctx, bus.EventMessageReceived, *msg)
}

// SendReply splits at the Discord limit and sends plain text; Discord
// renders markdown natively, so no fallback pass is needed.
func (c *Channel) SendReply(ctx context.Context, response string, dest bus.Destination, meta map[string]string) error {
	for _, chunk := range channels.SplitMessage(response, messageLimit) {
		if err := c.limiter.Wait(ctx, dest.ChatID); err != nil {
			return err
		}
		if _, err := c.session.ChannelMessageSend(dest.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// Acknowledge shows the typing indicator. Best effort.
func (c *Channel) Acknowledge(ctx context.Context, dest bus.Destination, meta map[string]string) error {
	_ = c.session.ChannelTyping(dest.ChatID)
	return nil
}
