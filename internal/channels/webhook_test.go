package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/config"
)

func testTransform(payload []byte, headers http.Header, query url.Values) (*bus.InboundMessage, string) {
	// Retry deliveries bypass the agent under a distinct event name.
	if headers.Get("X-Retry-Num") != "" {
		return nil, bus.EventRetry("slack")
	}
	var body struct {
		Text string `json:"text"`
		Chat string `json:"chat"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Text == "" {
		return nil, bus.EventMessageUnsupported("slack")
	}
	return &bus.InboundMessage{
		Channel:     "slack",
		SessionKey:  "slack-" + body.Chat,
		Content:     body.Text,
		Destination: bus.Destination{ChatID: body.Chat},
		ReceivedAt:  time.Now(),
	}, ""
}

func newTestWebhook(t *testing.T) (*WebhookServer, *bus.Bus, func(body, retryHeader string) int) {
	t.Helper()
	events := bus.New()
	server := NewWebhookServer(config.WebhookConfig{}, events)
	server.Register("slack", testTransform, func(payload []byte, headers http.Header) (int, []byte, bool) {
		var body struct {
			Challenge string `json:"challenge"`
		}
		if json.Unmarshal(payload, &body) == nil && body.Challenge != "" {
			return http.StatusOK, []byte(body.Challenge), true
		}
		return 0, nil, false
	})

	post := func(body, retryHeader string) int {
		req := httptest.NewRequest("POST", "/webhook/slack", strings.NewReader(body))
		req.SetPathValue("channel", "slack")
		if retryHeader != "" {
			req.Header.Set("X-Retry-Num", retryHeader)
		}
		rec := httptest.NewRecorder()
		server.handle(rec, req)
		return rec.Code
	}
	return server, events, post
}

func TestWebhookDeliversNormalizedMessage(t *testing.T) {
	_, events, post := newTestWebhook(t)

	var got bus.InboundMessage
	events.Subscribe(bus.EventMessageReceived, "t", func(ctx context.Context, evt bus.Event) error {
		got = evt.Payload.(bus.InboundMessage)
		return nil
	})

	if code := post(`{"text":"hi","chat":"C1"}`, ""); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.SessionKey != "slack-C1" || got.Content != "hi" {
		t.Errorf("message = %+v", got)
	}
}

func TestWebhookRetryBypassesAgent(t *testing.T) {
	_, events, post := newTestWebhook(t)

	received := 0
	events.Subscribe(bus.EventMessageReceived, "t", func(ctx context.Context, evt bus.Event) error {
		received++
		return nil
	})
	retried := 0
	events.Subscribe(bus.EventRetry("slack"), "t", func(ctx context.Context, evt bus.Event) error {
		retried++
		return nil
	})

	post(`{"text":"hi","chat":"C1"}`, "1")

	if received != 0 || retried != 1 {
		t.Errorf("received=%d retried=%d", received, retried)
	}
}

func TestWebhookUnsupportedPayloadDiscarded(t *testing.T) {
	_, events, post := newTestWebhook(t)

	var discarded bool
	events.Subscribe(bus.EventMessageUnsupported("slack"), "t", func(ctx context.Context, evt bus.Event) error {
		discarded = true
		return nil
	})

	if code := post(`{"unrelated":true}`, ""); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !discarded {
		t.Error("no discard event for unsupported payload")
	}
}

func TestWebhookChallengeRespondsSynchronously(t *testing.T) {
	server, events, _ := newTestWebhook(t)
	_ = server

	events.Subscribe(bus.EventMessageReceived, "t", func(ctx context.Context, evt bus.Event) error {
		t.Error("challenge must not reach the agent")
		return nil
	})

	req := httptest.NewRequest("POST", "/webhook/slack", strings.NewReader(`{"challenge":"tok123"}`))
	req.SetPathValue("channel", "slack")
	rec := httptest.NewRecorder()
	server.handle(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "tok123" {
		t.Errorf("code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestWebhookUnknownChannel(t *testing.T) {
	server := NewWebhookServer(config.WebhookConfig{}, bus.New())
	req := httptest.NewRequest("POST", "/webhook/nope", nil)
	req.SetPathValue("channel", "nope")
	rec := httptest.NewRecorder()
	server.handle(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d", rec.Code)
	}
}
