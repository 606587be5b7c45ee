package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/channels"
	"github.com/lodestarhq/lodestar/internal/config"
)

// Telegram caps messages at 4096 chars; split a little under it.
const messageLimit = 4000

// Channel is the Telegram handler: long-polls for updates, publishes
// normalized inbound messages, and delivers replies.
type Channel struct {
	bot        *telego.Bot
	cfg        config.TelegramConfig
	events     *bus.Bus
	limiter    *channels.SendLimiter
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, events *bus.Bus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		bot:     bot,
		cfg:     cfg,
		events:  events,
		limiter: channels.NewSendLimiter(1, 3),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Start begins long polling. The update pump runs until Stop cancels it.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}
	slog.Info("telegram channel started (long polling)")

	go func() {
		defer close(c.pollDone)
		for update := range updates {
			c.handleUpdate(pollCtx, update)
		}
	}()
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, update telego.Update) {
	msg, discard := Normalize(update, time.Now())
	if discard != "" {
		c.events.Publish(ctx, bus.EventMessageUnsupported("telegram"), bus.Discard{
			Channel: "telegram",
			Reason:  discard,
		})
		return
	}
	if !channels.Allowed(c.cfg.AllowFrom, msg.Sender.ID, msg.Sender.Username) {
		slog.Debug("telegram sender not allowed", "sender", msg.Sender.ID)
		return
	}
	c.events.Publish(ctx, bus.EventMessageReceived, *msg)
}

// SendReply delivers a reply as Markdown, split at the platform limit, with
// a plain-text fallback when Telegram rejects the formatting.
func (c *Channel) SendReply(ctx context.Context, response string, dest bus.Destination, meta map[string]string) error {
	chatID, err := strconv.ParseInt(dest.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", dest.ChatID, err)
	}

	for _, chunk := range channels.SplitMessage(response, messageLimit) {
		if err := c.limiter.Wait(ctx, dest.ChatID); err != nil {
			return err
		}
		params := tu.Message(tu.ID(chatID), chunk).WithParseMode(telego.ModeMarkdown)
		if dest.ThreadID != "" {
			if threadID, err := strconv.Atoi(dest.ThreadID); err == nil {
				params = params.WithMessageThreadID(threadID)
			}
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			// Markdown parse failures are common with model output; retry plain.
			slog.Debug("telegram markdown send failed, retrying plain", "error", err)
			plain := tu.Message(tu.ID(chatID), chunk)
			if _, err := c.bot.SendMessage(ctx, plain); err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
		}
	}
	return nil
}

// Acknowledge shows the typing indicator. Best effort.
func (c *Channel) Acknowledge(ctx context.Context, dest bus.Destination, meta map[string]string) error {
	chatID, err := strconv.ParseInt(dest.ChatID, 10, 64)
	if err != nil {
		return nil
	}
	_ = c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
	return nil
}
