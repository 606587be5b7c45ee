package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/memory"
)

const soulTemplate = `# Soul

You are %s, a personal agent. Be direct, be useful, remember what matters.
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: write a starter config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	path := resolveConfigPath()

	if _, err := os.Stat(path); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("Config already exists at %s. Overwrite?", path)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping existing config.")
			return nil
		}
	}

	cfg := config.Default()
	provider := cfg.Agent.Provider
	model := ""
	cron := cfg.Heartbeat.Cron

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent name").
				Placeholder(cfg.Agent.Name).
				Value(&cfg.Agent.Name),
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI-compatible", "openai"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Model (blank for provider default)").
				Value(&model),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace directory").
				Placeholder(cfg.Agent.Workspace).
				Value(&cfg.Agent.Workspace),
			huh.NewInput().
				Title("Heartbeat cron").
				Placeholder(cron).
				Value(&cron),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Agent.Provider = provider
	cfg.Agent.Model = model
	cfg.Heartbeat.Cron = cron

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if err := scaffoldWorkspace(cfg); err != nil {
		return err
	}

	fmt.Printf("Config written to %s\n", path)
	fmt.Printf("Workspace at %s\n\n", cfg.Agent.Workspace)
	fmt.Println("API keys are read from the environment, not the config file:")
	switch provider {
	case "openai":
		fmt.Println("  export LODESTAR_OPENAI_API_KEY=...")
	default:
		fmt.Println("  export LODESTAR_ANTHROPIC_API_KEY=...")
	}
	fmt.Println("Optional channels:")
	fmt.Println("  export LODESTAR_TELEGRAM_TOKEN=...")
	fmt.Println("  export LODESTAR_DISCORD_TOKEN=...")
	fmt.Println("\nThen run: lodestar serve  (or: lodestar chat)")
	return nil
}

// scaffoldWorkspace creates the workspace layout and a starter SOUL.md.
// Existing identity files are never overwritten.
func scaffoldWorkspace(cfg *config.Config) error {
	ws := expandHomeDir(cfg.Agent.Workspace)

	if err := os.MkdirAll(filepath.Join(ws, "memory"), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	soulPath := filepath.Join(ws, memory.SoulFile)
	if _, err := os.Stat(soulPath); os.IsNotExist(err) {
		soul := fmt.Sprintf(soulTemplate, cfg.Agent.Name)
		if err := os.WriteFile(soulPath, []byte(soul), 0o644); err != nil {
			return fmt.Errorf("write soul file: %w", err)
		}
	}
	return nil
}

func expandHomeDir(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
