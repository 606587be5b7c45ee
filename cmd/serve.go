package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestarhq/lodestar/internal/agent"
	"github.com/lodestarhq/lodestar/internal/bus"
	"github.com/lodestarhq/lodestar/internal/channels"
	"github.com/lodestarhq/lodestar/internal/channels/discord"
	"github.com/lodestarhq/lodestar/internal/channels/telegram"
	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/dispatch"
	"github.com/lodestarhq/lodestar/internal/durable"
	"github.com/lodestarhq/lodestar/internal/heartbeat"
	"github.com/lodestarhq/lodestar/internal/memory"
	"github.com/lodestarhq/lodestar/internal/providers"
	"github.com/lodestarhq/lodestar/internal/sessions"
	"github.com/lodestarhq/lodestar/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway (channels, heartbeat, webhook ingress)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
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

	shutdownTraces, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	wal, err := durable.OpenSQLiteWAL(cfg.Durable.Path)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	mem := memory.NewStore(cfg.Agent.Workspace)
	a := agent.New(cfg.Agent, provider, sessions.NewStore(cfg.Agent.Workspace), mem)

	events := bus.New()
	supervisor := durable.NewSupervisor(wal)
	registry := channels.NewRegistry()
	webhooks := channels.NewWebhookServer(cfg.Channels.Webhook, events)

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, events)
		if err != nil {
			return fmt.Errorf("init telegram: %w", err)
		}
		registry.Add(tg)
		webhooks.Register("telegram", telegram.WebhookTransform, nil)
	}
	if cfg.Channels.Discord.Enabled {
		dc, err := discord.New(cfg.Channels.Discord, events)
		if err != nil {
			return fmt.Errorf("init discord: %w", err)
		}
		registry.Add(dc)
	}

	dispatch.New(ctx, a, supervisor, events, registry, cfg.Durable.MaxRetries).Register()

	if err := registry.StartAll(ctx); err != nil {
		return err
	}
	if err := webhooks.Start(ctx); err != nil {
		return err
	}
	heartbeat.New(cfg.Heartbeat, provider, mem, wal, a.Model()).Start(ctx)

	slog.Info("lodestar serving",
		"agent", cfg.Agent.Name,
		"provider", provider.Name(),
		"model", a.Model(),
		"workspace", cfg.Agent.Workspace)

	<-ctx.Done()
	slog.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	supervisor.CancelAll()
	registry.StopAll(stopCtx)
	if err := webhooks.Stop(stopCtx); err != nil {
		slog.Warn("webhook shutdown", "error", err)
	}
	if err := shutdownTraces(stopCtx); err != nil {
		slog.Warn("trace flush", "error", err)
	}
	if err := wal.Close(); err != nil {
		slog.Warn("durable store close", "error", err)
	}
	return nil
}

// buildProvider constructs the configured LLM backend. The agent-level model
// override wins over the per-provider one; blank falls through to the
// provider's default.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	switch cfg.Agent.Provider {
	case "", "anthropic":
		model := cfg.Agent.Model
		if model == "" {
			model = cfg.Providers.Anthropic.Model
		}
		p, err := providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, model, cfg.Agent.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w (set LODESTAR_ANTHROPIC_API_KEY)", err)
		}
		return p, nil
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, errors.New("openai provider: api key is required (set LODESTAR_OPENAI_API_KEY)")
		}
		model := cfg.Agent.Model
		if model == "" {
			model = cfg.Providers.OpenAI.Model
		}
		return providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, model, cfg.Agent.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Agent.Provider)
	}
}
