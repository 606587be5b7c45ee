package bus

import (
	"context"
	"errors"
	"testing"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(EventReplyReady, "a", func(ctx context.Context, evt Event) error {
		got = append(got, "a")
		return nil
	})
	b.Subscribe(EventReplyReady, "b", func(ctx context.Context, evt Event) error {
		got = append(got, "b")
		return nil
	})

	b.Publish(context.Background(), EventReplyReady, ReplyReady{Content: "hi"})

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}

func TestHandlerErrorEmitsFunctionFailed(t *testing.T) {
	b := New()
	var failure FunctionFailure
	b.Subscribe(EventFunctionFailed, "observer", func(ctx context.Context, evt Event) error {
		failure = evt.Payload.(FunctionFailure)
		return nil
	})
	b.Subscribe(EventMessageReceived, "broken", func(ctx context.Context, evt Event) error {
		return errors.New("handler exploded")
	})

	msg := InboundMessage{
		Channel:     "telegram",
		SessionKey:  "telegram:42",
		Destination: Destination{ChatID: "42"},
		ChannelMeta: map[string]string{"chat_type": "private"},
	}
	b.Publish(context.Background(), EventMessageReceived, msg)

	if failure.Event != EventMessageReceived {
		t.Errorf("failure.Event = %q", failure.Event)
	}
	if failure.Error != "handler exploded" {
		t.Errorf("failure.Error = %q", failure.Error)
	}
	if failure.SessionKey != "telegram:42" || failure.Destination.ChatID != "42" {
		t.Errorf("routing not carried: %+v", failure)
	}
	if failure.ChannelMeta["chat_type"] != "private" {
		t.Errorf("channel meta not carried: %+v", failure.ChannelMeta)
	}
}

func TestHandlerPanicEmitsFunctionFailed(t *testing.T) {
	b := New()
	var fired bool
	b.Subscribe(EventFunctionFailed, "observer", func(ctx context.Context, evt Event) error {
		fired = true
		return nil
	})
	b.Subscribe(EventReplyReady, "panicky", func(ctx context.Context, evt Event) error {
		panic("boom")
	})

	b.Publish(context.Background(), EventReplyReady, ReplyReady{})

	if !fired {
		t.Error("panic did not produce function.failed")
	}
}

func TestFailureHandlerErrorDoesNotLoop(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(EventFunctionFailed, "broken-observer", func(ctx context.Context, evt Event) error {
		calls++
		return errors.New("observer also broken")
	})
	b.Subscribe(EventReplyReady, "broken", func(ctx context.Context, evt Event) error {
		return errors.New("original failure")
	})

	b.Publish(context.Background(), EventReplyReady, ReplyReady{})

	if calls != 1 {
		t.Errorf("failure handler called %d times, want 1", calls)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(EventReplyReady, "a", func(ctx context.Context, evt Event) error {
		calls++
		return nil
	})
	b.Unsubscribe(EventReplyReady, "a")

	b.Publish(context.Background(), EventReplyReady, ReplyReady{})

	if calls != 0 {
		t.Errorf("handler called after unsubscribe")
	}
}

func TestDiscardEventNames(t *testing.T) {
	if got := EventMessageUnsupported("telegram"); got != "telegram/message.unsupported" {
		t.Errorf("got %q", got)
	}
	if got := EventTransformFailed("discord"); got != "discord/transform.failed" {
		t.Errorf("got %q", got)
	}
	if got := EventRetry("telegram"); got != "telegram/event.retry" {
		t.Errorf("got %q", got)
	}
}
