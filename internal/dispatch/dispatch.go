// Package dispatch wires the event bus to the agent runtime: it acknowledges
// inbound messages, drives singleton agent runs, and routes replies back to
// their channel handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lodestarhq/lodestar/internal/agent"
	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/channels"
	"github.com/lodestarhq/lodestar/internal/durable"
	"github.com/lodestarhq/lodestar/internal/telemetry"
)

const (
	sendRetries    = 3
	sendRetryDelay = time.Second
)

const apologyText = "Sorry, something went wrong while processing your message. Please try again."

// Dispatcher subscribes to the core events and fans them out to the agent
// and channel handlers.
type Dispatcher struct {
	agent      *agent.Agent
	supervisor *durable.Supervisor
	events     *bus.Bus
	channels   *channels.Registry
	maxRetries int
	base       context.Context
}

func New(base context.Context, a *agent.Agent, sup *durable.Supervisor, events *bus.Bus, reg *channels.Registry, maxRetries int) *Dispatcher {
	if maxRetries < 1 {
		maxRetries = durable.DefaultMaxRetries
	}
	return &Dispatcher{
		agent:      a,
		supervisor: sup,
		events:     events,
		channels:   reg,
		maxRetries: maxRetries,
		base:       base,
	}
}

// Register installs the event subscriptions: acknowledge and handle on
// message receipt, delivery on reply readiness, apologies on failures.
func (d *Dispatcher) Register() {
	d.events.Subscribe(bus.EventMessageReceived, "acknowledge", d.acknowledge)
	d.events.Subscribe(bus.EventMessageReceived, "handle-message", d.handleMessage)
	d.events.Subscribe(bus.EventReplyReady, "send-reply", d.sendReply)
	d.events.Subscribe(bus.EventFunctionFailed, "failure-handler", d.handleFailure)
}

// acknowledge signals receipt on the originating channel. Best effort: no
// retries, failures only logged.
func (d *Dispatcher) acknowledge(ctx context.Context, evt bus.Event) error {
	msg, ok := evt.Payload.(bus.InboundMessage)
	if !ok {
		return nil
	}
	handler, ok := d.channels.Get(msg.Channel)
	if !ok {
		return nil
	}
	if err := handler.Acknowledge(ctx, msg.Destination, msg.ChannelMeta); err != nil {
		slog.Debug("acknowledge failed", "channel", msg.Channel, "error", err)
	}
	return nil
}

// handleMessage claims the session slot (cancelling any in-flight run for
// the same key) and drives the agent loop on its own goroutine. Claiming
// happens synchronously in event order so two quick messages for one session
// resolve deterministically: the later one wins.
func (d *Dispatcher) handleMessage(ctx context.Context, evt bus.Event) error {
	msg, ok := evt.Payload.(bus.InboundMessage)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}

	run := d.supervisor.Start(d.base, msg.SessionKey)
	slog.Info("run started", "session", msg.SessionKey, "run", run.ID(), "channel", msg.Channel)

	go func() {
		defer run.Finish()

		runCtx, span := telemetry.StartRun(run.Context(), msg.SessionKey, msg.Channel)
		var result *agent.RunResult
		err := durable.RunWithRetries(runCtx, run.Execution(), d.maxRetries, func(ctx context.Context, ex *durable.Execution) error {
			r, err := d.agent.Run(ctx, ex, msg.SessionKey, msg.Content)
			if err == nil {
				result = r
			}
			return err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("run superseded", "session", msg.SessionKey, "run", run.ID())
				telemetry.EndRun(span, 0, 0, nil)
				return
			}
			telemetry.EndRun(span, 0, 0, err)
			slog.Error("run failed", "session", msg.SessionKey, "run", run.ID(), "error", err)
			d.events.Publish(d.base, bus.EventFunctionFailed, bus.FunctionFailure{
				Event:       bus.EventMessageReceived,
				Error:       err.Error(),
				SessionKey:  msg.SessionKey,
				Channel:     msg.Channel,
				Destination: msg.Destination,
				ChannelMeta: msg.ChannelMeta,
			})
			return
		}

		telemetry.EndRun(span, result.Iterations, result.ToolCalls, nil)
		slog.Info("run finished",
			"session", msg.SessionKey, "run", run.ID(),
			"iterations", result.Iterations, "tool_calls", result.ToolCalls)
		d.events.Publish(d.base, bus.EventReplyReady, bus.ReplyReady{
			Channel:     msg.Channel,
			SessionKey:  msg.SessionKey,
			Content:     result.Response,
			Destination: msg.Destination,
			ChannelMeta: msg.ChannelMeta,
		})
	}()
	return nil
}

// sendReply delivers a finished reply with retries. A returned error after
// exhaustion surfaces as function.failed.
func (d *Dispatcher) sendReply(ctx context.Context, evt bus.Event) error {
	reply, ok := evt.Payload.(bus.ReplyReady)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Name)
	}
	handler, ok := d.channels.Get(reply.Channel)
	if !ok {
		return fmt.Errorf("no handler for channel %q", reply.Channel)
	}

	var lastErr error
	for attempt := 0; attempt < sendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sendRetryDelay):
			}
		}
		if lastErr = handler.SendReply(ctx, reply.Content, reply.Destination, reply.ChannelMeta); lastErr == nil {
			return nil
		}
		slog.Warn("reply send failed", "channel", reply.Channel, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("send reply to %s after %d attempts: %w", reply.Channel, sendRetries, lastErr)
}

// handleFailure sends a short apology to the user behind a failed event,
// when the failure carries enough routing to find them.
func (d *Dispatcher) handleFailure(ctx context.Context, evt bus.Event) error {
	fail, ok := evt.Payload.(bus.FunctionFailure)
	if !ok {
		return nil
	}
	slog.Error("function failed", "event", fail.Event, "session", fail.SessionKey, "error", fail.Error)

	if fail.Channel == "" || fail.Destination.ChatID == "" {
		return nil
	}
	handler, ok := d.channels.Get(fail.Channel)
	if !ok {
		return nil
	}
	if err := handler.SendReply(ctx, apologyText, fail.Destination, fail.ChannelMeta); err != nil {
		slog.Warn("apology send failed", "channel", fail.Channel, "error", err)
	}
	return nil
}
