package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/sessions"
)

// Console is the terminal channel backing the interactive chat command.
// One process, one conversation, one session key.
type Console struct {
	events *bus.Bus
	in     io.Reader
	out    io.Writer
	done   chan struct{}
}

func NewConsole(events *bus.Bus, in io.Reader, out io.Writer) *Console {
	return &Console{events: events, in: in, out: out, done: make(chan struct{})}
}

func (c *Console) Name() string { return "console" }

// SessionKey returns the fixed key used for the terminal conversation.
func (c *Console) SessionKey() string {
	return sessions.BuildKey("console", "local")
}

// Start reads lines from the input until EOF, publishing each as an inbound
// message.
func (c *Console) Start(ctx context.Context) error {
	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.events.Publish(ctx, bus.EventMessageReceived, bus.InboundMessage{
				Channel:     "console",
				SessionKey:  c.SessionKey(),
				Content:     line,
				Sender:      bus.Sender{ID: "local"},
				Destination: bus.Destination{ChatID: "local"},
				ReceivedAt:  time.Now(),
			})
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("console read stopped", "error", err)
		}
	}()
	return nil
}

func (c *Console) Stop(ctx context.Context) error {
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return nil
}

func (c *Console) SendReply(ctx context.Context, response string, dest bus.Destination, meta map[string]string) error {
	_, err := fmt.Fprintf(c.out, "%s\n", response)
	return err
}

func (c *Console) Acknowledge(ctx context.Context, dest bus.Destination, meta map[string]string) error {
	return nil
}

// Done is closed when the input reaches EOF.
func (c *Console) Done() <-chan struct{} { return c.done }
