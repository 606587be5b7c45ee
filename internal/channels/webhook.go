package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/config"
)

// Transform maps a raw webhook payload to a canonical inbound message. It
// must be a pure function of its inputs. Outcomes:
//   - (msg, "") — deliver to the agent
//   - (nil, discardEvent) — publish the named discard event instead
//   - (nil, "") — ignore silently
type Transform func(payload []byte, headers http.Header, query url.Values) (*bus.InboundMessage, string)

// Responder optionally answers platform challenges (URL verification)
// synchronously. handled=false falls through to the transform.
type Responder func(payload []byte, headers http.Header) (status int, body []byte, handled bool)

type webhookRoute struct {
	channel   string
	transform Transform
	responder Responder
}

// WebhookServer is the HTTP ingress for push-style channels. Each channel
// registers a transform under /webhook/{channel}; the server handles rate
// limiting and event publication, the transform handles payload shape.
type WebhookServer struct {
	cfg     config.WebhookConfig
	events  *bus.Bus
	routes  map[string]webhookRoute
	limiter *SendLimiter
	server  *http.Server
}

func NewWebhookServer(cfg config.WebhookConfig, events *bus.Bus) *WebhookServer {
	return &WebhookServer{
		cfg:     cfg,
		events:  events,
		routes:  make(map[string]webhookRoute),
		limiter: NewSendLimiter(30, 30),
	}
}

// Register installs a transform (and optional responder) for a channel.
func (s *WebhookServer) Register(channel string, t Transform, r Responder) {
	s.routes[channel] = webhookRoute{channel: channel, transform: t, responder: r}
}

func (s *WebhookServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{channel}", s.handle)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook listen %s: %w", addr, err)
	}
	slog.Info("webhook ingress started", "addr", addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook server stopped", "error", err)
		}
	}()
	return nil
}

func (s *WebhookServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *WebhookServer) handle(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	route, ok := s.routes[channel]
	if !ok {
		http.NotFound(w, r)
		return
	}

	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if err := s.limiter.Wait(r.Context(), ip); err != nil {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if route.responder != nil {
		if status, body, handled := route.responder(payload, r.Header); handled {
			w.WriteHeader(status)
			w.Write(body)
			return
		}
	}

	msg, discardEvent := s.runTransform(route, payload, r)
	switch {
	case msg != nil:
		s.events.Publish(r.Context(), bus.EventMessageReceived, *msg)
	case discardEvent != "":
		s.events.Publish(r.Context(), discardEvent, bus.Discard{
			Channel: channel,
			Reason:  discardEvent,
		})
	}
	w.WriteHeader(http.StatusOK)
}

// runTransform guards against a panicking transform; a panic becomes a
// transform.failed discard.
func (s *WebhookServer) runTransform(route webhookRoute, payload []byte, r *http.Request) (msg *bus.InboundMessage, discardEvent string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("webhook transform panicked", "channel", route.channel, "panic", rec)
			msg, discardEvent = nil, bus.EventTransformFailed(route.channel)
		}
	}()
	return route.transform(payload, r.Header, r.URL.Query())
}
