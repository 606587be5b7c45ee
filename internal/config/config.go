// Package config holds the runtime configuration for the Lodestar gateway.
// Config is loaded once at startup from an optional JSON5 file plus env
// overrides, then threaded explicitly through the runtime — no module-level
// mutable state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Durable   DurableConfig   `json:"durable"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// AgentConfig holds agent identity and loop tuning.
type AgentConfig struct {
	Name          string  `json:"name"`
	Workspace     string  `json:"workspace"`
	Provider      string  `json:"provider"` // "anthropic" or "openai"
	Model         string  `json:"model"`
	MaxIterations int     `json:"max_iterations"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	HistoryLimit  int     `json:"history_limit"` // messages loaded per run

	Compaction CompactionConfig `json:"compaction"`
	Pruning    PruningConfig    `json:"pruning"`
}

// CompactionConfig tunes conversation compaction.
type CompactionConfig struct {
	MaxTokens        int     `json:"max_tokens"`
	Threshold        float64 `json:"threshold"`
	KeepRecentTokens int     `json:"keep_recent_tokens"`
}

// PruningConfig tunes in-run tool-result pruning.
type PruningConfig struct {
	KeepLastAssistantTurns int `json:"keep_last_assistant_turns"`
	HardClearThreshold     int `json:"hard_clear_threshold"`
	SoftTrimMaxChars       int `json:"soft_trim_max_chars"`
}

// ProvidersConfig holds per-provider credentials. API keys come from env only
// and are never persisted to the config file.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	OpenAI    ProviderConfig `json:"openai,omitempty"`
}

// ProviderConfig configures one LLM backend.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ChannelsConfig configures channel handlers.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Webhook  WebhookConfig  `json:"webhook,omitempty"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Token     string   `json:"-"` // from env LODESTAR_TELEGRAM_TOKEN only
	AllowFrom []string `json:"allow_from,omitempty"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Token     string   `json:"-"` // from env LODESTAR_DISCORD_TOKEN only
	AllowFrom []string `json:"allow_from,omitempty"`
}

// WebhookConfig configures the HTTP ingress for push-style channels.
type WebhookConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// HeartbeatConfig configures the memory distillation cron.
type HeartbeatConfig struct {
	Cron             string `json:"cron"`               // cron expression
	RetentionDays    int    `json:"retention_days"`     // daily log retention
	LogSizeThreshold int    `json:"log_size_threshold"` // bytes
	MaxHoursBetween  int    `json:"max_hours_between"`
}

// DurableConfig configures the durable execution substrate.
type DurableConfig struct {
	Path       string `json:"path,omitempty"` // sqlite WAL path (default: {workspace}/lodestar.db)
	MaxRetries int    `json:"max_retries,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:          "Lodestar",
			Workspace:     "~/.lodestar/workspace",
			Provider:      "anthropic",
			Model:         "",
			MaxIterations: 20,
			MaxTokens:     8192,
			Temperature:   0.7,
			HistoryLimit:  10,
			Compaction: CompactionConfig{
				MaxTokens:        150_000,
				Threshold:        0.8,
				KeepRecentTokens: 20_000,
			},
			Pruning: PruningConfig{
				KeepLastAssistantTurns: 3,
				HardClearThreshold:     50_000,
				SoftTrimMaxChars:       4000,
			},
		},
		Heartbeat: HeartbeatConfig{
			Cron:             "*/30 * * * *",
			RetentionDays:    30,
			LogSizeThreshold: 4096,
			MaxHoursBetween:  8,
		},
		Durable: DurableConfig{
			MaxRetries: 3,
		},
		Channels: ChannelsConfig{
			Webhook: WebhookConfig{Host: "127.0.0.1", Port: 18990},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				*dst = f
			}
		}
	}

	envStr("AGENT_NAME", &c.Agent.Name)
	envStr("AGENT_WORKSPACE", &c.Agent.Workspace)
	envStr("LLM_PROVIDER", &c.Agent.Provider)
	envStr("AGENT_MODEL", &c.Agent.Model)
	envInt("MAX_ITERATIONS", &c.Agent.MaxIterations)

	envInt("COMPACTION_MAX_TOKENS", &c.Agent.Compaction.MaxTokens)
	envFloat("COMPACTION_THRESHOLD", &c.Agent.Compaction.Threshold)
	envInt("KEEP_RECENT_TOKENS", &c.Agent.Compaction.KeepRecentTokens)

	envStr("HEARTBEAT_CRON", &c.Heartbeat.Cron)
	envInt("MEMORY_RETENTION_DAYS", &c.Heartbeat.RetentionDays)

	envStr("LODESTAR_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("LODESTAR_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("LODESTAR_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("LODESTAR_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("LODESTAR_DISCORD_TOKEN", &c.Channels.Discord.Token)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
}

// expandPaths resolves ~ in workspace-relative settings and fills in the
// derived durable WAL path.
func (c *Config) expandPaths() {
	c.Agent.Workspace = expandHome(c.Agent.Workspace)
	if c.Durable.Path == "" {
		c.Durable.Path = filepath.Join(c.Agent.Workspace, "lodestar.db")
	} else {
		c.Durable.Path = expandHome(c.Durable.Path)
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
