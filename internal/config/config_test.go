package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Heartbeat.Cron != "*/30 * * * *" {
		t.Errorf("Cron = %q", cfg.Heartbeat.Cron)
	}
}

func TestLoadJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// JSON5: comments and trailing commas are allowed.
	content := `{
		// agent identity
		agent: {
			name: "Testy",
			max_iterations: 5,
		},
		heartbeat: { cron: "0 * * * *" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Name != "Testy" {
		t.Errorf("Name = %q", cfg.Agent.Name)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Heartbeat.Cron != "0 * * * *" {
		t.Errorf("Cron = %q", cfg.Heartbeat.Cron)
	}
	// Unset fields keep defaults.
	if cfg.Heartbeat.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d", cfg.Heartbeat.RetentionDays)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_NAME", "EnvAgent")
	t.Setenv("MAX_ITERATIONS", "7")
	t.Setenv("LODESTAR_TELEGRAM_TOKEN", "tok")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Name != "EnvAgent" {
		t.Errorf("Name = %q", cfg.Agent.Name)
	}
	if cfg.Agent.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tok" {
		t.Error("telegram not enabled by token env")
	}
}

func TestDurablePathDerivedFromWorkspace(t *testing.T) {
	t.Setenv("AGENT_WORKSPACE", "/tmp/ws")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Durable.Path != "/tmp/ws/lodestar.db" {
		t.Errorf("Durable.Path = %q", cfg.Durable.Path)
	}
}
