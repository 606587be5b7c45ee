package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is one published occurrence.
type Event struct {
	Name    string
	Payload interface{}
	At      time.Time
}

// Handler processes one event. A returned error is reported as a
// function.failed event; it never stops fan-out to other subscribers.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	id      string
	handler Handler
}

// Bus fans events out to named subscribers. Handlers run synchronously in
// publish order per event; the dispatcher owns its own goroutines for
// long-running work, the bus stays thin.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscription
}

func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers a handler for an event name. The id is used for
// Unsubscribe and failure reporting.
func (b *Bus) Subscribe(event, id string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], subscription{id: id, handler: h})
}

// Unsubscribe removes a handler by id.
func (b *Bus) Unsubscribe(event, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every subscriber. Handler errors and panics
// become function.failed events, except for failures of function.failed
// handlers themselves, which are only logged to break the loop.
func (b *Bus) Publish(ctx context.Context, name string, payload interface{}) {
	evt := Event{Name: name, Payload: payload, At: time.Now()}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[name]))
	copy(subs, b.subs[name])
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.invoke(ctx, s, evt); err != nil {
			if name == EventFunctionFailed {
				slog.Error("failure handler failed", "subscriber", s.id, "error", err)
				continue
			}
			b.Publish(ctx, EventFunctionFailed, failureFor(evt, err))
		}
	}
}

func (b *Bus) invoke(ctx context.Context, s subscription, evt Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber %s panicked: %v", s.id, rec)
		}
	}()
	return s.handler(ctx, evt)
}

// failureFor builds a FunctionFailure, carrying the session routing of the
// failed event when the payload exposes it.
func failureFor(evt Event, err error) FunctionFailure {
	fail := FunctionFailure{Event: evt.Name, Error: err.Error()}
	switch p := evt.Payload.(type) {
	case InboundMessage:
		fail.SessionKey = p.SessionKey
		fail.Channel = p.Channel
		fail.Destination = p.Destination
		fail.ChannelMeta = p.ChannelMeta
	case ReplyReady:
		fail.SessionKey = p.SessionKey
		fail.Channel = p.Channel
		fail.Destination = p.Destination
		fail.ChannelMeta = p.ChannelMeta
	}
	return fail
}
