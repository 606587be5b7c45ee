// Package channels connects external messaging platforms to the agent
// runtime. Each handler normalizes inbound payloads onto the event bus and
// delivers replies back to its platform.
package channels

import (
	"context"

	"github.com/lodestarhq/lodestar/internal/bus"
)

// Handler is the per-platform contract. SendReply and Acknowledge receive
// the destination and the opaque channel metadata produced by the channel's
// own transform; the core never inspects the metadata.
type Handler interface {
	Name() string

	// Start begins receiving messages; non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down gracefully.
	Stop(ctx context.Context) error

	// SendReply formats and delivers a reply, splitting long messages at the
	// platform limit. Implementations fall back to plain text when the
	// platform rejects formatted output.
	SendReply(ctx context.Context, response string, dest bus.Destination, meta map[string]string) error

	// Acknowledge gives a best-effort receipt signal (typing indicator,
	// reaction). Failures are swallowed by the caller.
	Acknowledge(ctx context.Context, dest bus.Destination, meta map[string]string) error
}

// Registry maps channel names to running handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Add(h Handler) {
	r.handlers[h.Name()] = h
}

func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// StartAll starts every registered handler, returning the first error.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, h := range r.handlers {
		if err := h.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every handler, best effort.
func (r *Registry) StopAll(ctx context.Context) {
	for _, h := range r.handlers {
		_ = h.Stop(ctx)
	}
}

// Allowed checks a sender against an allowlist of IDs or @usernames.
// An empty allowlist admits everyone.
func Allowed(allowList []string, senderID, username string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, entry := range allowList {
		if entry == senderID {
			return true
		}
		if username != "" && (entry == username || entry == "@"+username) {
			return true
		}
	}
	return false
}
