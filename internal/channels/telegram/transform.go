// Package telegram connects the runtime to the Telegram Bot API via long
// polling with telego.
package telegram

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"

	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/sessions"
)

// Discard reasons produced by Normalize.
const (
	DiscardNoMessage   = "no message payload"
	DiscardNoSender    = "no sender"
	DiscardUnsupported = "unsupported content"
)

// Normalize maps one Telegram update to the canonical inbound message. It is
// a pure function of the update: no I/O, no clock beyond the receipt stamp.
// A non-empty discard reason means the update must not reach the agent.
func Normalize(update telego.Update, receivedAt time.Time) (*bus.InboundMessage, string) {
	message := update.Message
	if message == nil {
		return nil, DiscardNoMessage
	}
	if message.From == nil {
		return nil, DiscardNoSender
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if text == "" {
		// Stickers, service messages, bare media. Nothing for the agent.
		return nil, DiscardUnsupported
	}

	chatID := fmt.Sprintf("%d", message.Chat.ID)
	dest := bus.Destination{
		ChatID:    chatID,
		MessageID: fmt.Sprintf("%d", message.MessageID),
	}

	// Forum topics get thread-scoped sessions; plain chats are chat-scoped.
	sessionKey := sessions.BuildKey("telegram", chatID)
	if message.Chat.IsForum && message.MessageThreadID != 0 {
		threadID := fmt.Sprintf("%d", message.MessageThreadID)
		dest.ThreadID = threadID
		sessionKey = sessions.BuildThreadKey("telegram", chatID, threadID)
	}

	return &bus.InboundMessage{
		Channel:    "telegram",
		SessionKey: sessionKey,
		Content:    text,
		Sender: bus.Sender{
			ID:       fmt.Sprintf("%d", message.From.ID),
			Name:     message.From.FirstName,
			Username: message.From.Username,
		},
		Destination: dest,
		ChannelMeta: map[string]string{
			"chat_type": message.Chat.Type,
		},
		ReceivedAt: receivedAt,
	}, ""
}

// WebhookTransform adapts Normalize to the webhook ingress contract: raw
// update JSON in, canonical message or discard event name out. The
// human-readable discard reason stays out of the event name.
func WebhookTransform(payload []byte, _ http.Header, _ url.Values) (*bus.InboundMessage, string) {
	var update telego.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, bus.EventTransformFailed("telegram")
	}
	msg, discard := Normalize(update, time.Now())
	if discard != "" {
		return nil, bus.EventMessageUnsupported("telegram")
	}
	return msg, ""
}
