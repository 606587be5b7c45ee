// Package bus is the in-process event spine: channels publish inbound
// messages, the dispatcher publishes replies, and everything else observes.
package bus

import "time"

// Core event names.
const (
	EventMessageReceived = "agent.message.received"
	EventReplyReady      = "agent.reply.ready"
	EventFunctionFailed  = "function.failed"
)

// Channel-scoped discard events. Discarded input is observable but never
// reaches the agent.
func EventMessageUnsupported(channel string) string { return channel + "/message.unsupported" }
func EventTransformFailed(channel string) string    { return channel + "/transform.failed" }
func EventRetry(channel string) string              { return channel + "/event.retry" }

// Sender identifies who wrote an inbound message.
type Sender struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// Destination tells the channel where a reply belongs.
type Destination struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// InboundMessage is a normalized message from any channel. ChannelMeta
// carries channel-specific fields the dispatcher passes through untouched.
type InboundMessage struct {
	Channel     string            `json:"channel"`
	SessionKey  string            `json:"session_key"`
	Content     string            `json:"content"`
	Sender      Sender            `json:"sender"`
	Destination Destination       `json:"destination"`
	ChannelMeta map[string]string `json:"channel_meta,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// ReplyReady is published when an agent run produced a response for a
// destination. Channels subscribe and deliver.
type ReplyReady struct {
	Channel     string            `json:"channel"`
	SessionKey  string            `json:"session_key"`
	Content     string            `json:"content"`
	Destination Destination       `json:"destination"`
	ChannelMeta map[string]string `json:"channel_meta,omitempty"`
}

// FunctionFailure is published when a subscriber errored while handling an
// event. The global failure handler turns these into user-facing apologies
// where a destination is known.
type FunctionFailure struct {
	Event       string            `json:"event"`
	Error       string            `json:"error"`
	SessionKey  string            `json:"session_key,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Destination Destination       `json:"destination,omitempty"`
	ChannelMeta map[string]string `json:"channel_meta,omitempty"`
}

// Discard is the payload for message.unsupported / transform.failed /
// event.retry observability events.
type Discard struct {
	Channel string `json:"channel"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}
