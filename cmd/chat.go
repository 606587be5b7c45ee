package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestarhq/lodestar/internal/agent"
	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/channels"
	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/dispatch"
	"github.com/lodestarhq/lodestar/internal/durable"
	"github.com/lodestarhq/lodestar/internal/memory"
	"github.com/lodestarhq/lodestar/internal/sessions"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}
}

// runChat assembles the same runtime as serve, minus the network channels and
// the heartbeat. Durable state lives in memory: a crashed chat session has no
// replay story to offer anyway.
func runChat() error {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	a := agent.New(cfg.Agent, provider, sessions.NewStore(cfg.Agent.Workspace), memory.NewStore(cfg.Agent.Workspace))

	events := bus.New()
	supervisor := durable.NewSupervisor(durable.NewMemoryWAL())
	registry := channels.NewRegistry()
	console := channels.NewConsole(events, os.Stdin, os.Stdout)
	registry.Add(console)

	dispatch.New(ctx, a, supervisor, events, registry, cfg.Durable.MaxRetries).Register()

	if err := console.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("%s ready (%s). Type a message, Ctrl-D to exit.\n", cfg.Agent.Name, a.Model())

	select {
	case <-ctx.Done():
	case <-console.Done():
		// Input closed; give an in-flight run a moment to deliver its reply.
		drainRun(supervisor, console.SessionKey())
	}
	supervisor.CancelAll()
	return nil
}

func drainRun(supervisor *durable.Supervisor, sessionKey string) {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) && supervisor.Active(sessionKey) {
		time.Sleep(50 * time.Millisecond)
	}
}
