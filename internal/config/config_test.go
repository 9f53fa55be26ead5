package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Model == "" {
		t.Error("default model empty")
	}
	if cfg.Agent.MaxTurns != 10 || cfg.Agent.MaxRetries != 3 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if !cfg.Agent.EnableTools {
		t.Error("tools disabled by default")
	}
}

func TestLoadTOMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alloy.toml")
	content := `
[llm]
model = "deepseek/deepseek-chat"
api_key = "sk-from-file"

[agent]
max_turns = 25
sandbox_image = "python:3.12-alpine"

[observer]
enabled = true

[observer.pricing."deepseek-chat"]
input = 0.27
output = 1.10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.LLM.Model != "deepseek/deepseek-chat" || cfg.LLM.APIKey != "sk-from-file" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Agent.MaxTurns != 25 {
		t.Errorf("max_turns = %d", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.SandboxImage != "python:3.12-alpine" {
		t.Errorf("sandbox_image = %q", cfg.Agent.SandboxImage)
	}
	if !cfg.Observer.Enabled || cfg.Observer.Pricing["deepseek-chat"].Input != 0.27 {
		t.Errorf("observer = %+v", cfg.Observer)
	}
	// Untouched fields keep defaults.
	if cfg.Agent.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want default 3", cfg.Agent.MaxRetries)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ALLOY_MODEL", "anthropic/claude-haiku-3-5")
	t.Setenv("ALLOY_API_KEY", "sk-env")

	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.LLM.Model != "anthropic/claude-haiku-3-5" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
}
