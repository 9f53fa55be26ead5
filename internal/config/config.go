// Package config loads CLI configuration: defaults, then a TOML file, then
// environment variables (env wins).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Agent      AgentConfig      `toml:"agent"`
	Scratchpad ScratchpadConfig `toml:"scratchpad"`
	Observer   ObserverConfig   `toml:"observer"`
}

type LLMConfig struct {
	// Model is a "provider/model" identifier, e.g.
	// "anthropic/claude-sonnet-4-5" or "deepseek/deepseek-chat".
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	// MaxTokens is the provider completion budget per call.
	MaxTokens int `toml:"max_tokens"`
	// ThinkingBudget enables extended thinking on capable providers.
	ThinkingBudget int `toml:"thinking_budget"`
}

type AgentConfig struct {
	SystemPrompt   string `toml:"system_prompt"`
	MaxTurns       int    `toml:"max_turns"`
	ContextTokens  int    `toml:"context_tokens"` // compaction budget
	MaxRetries     int    `toml:"max_retries"`
	RetryBackoffMS int    `toml:"retry_backoff_ms"`
	TimeoutMS      int    `toml:"timeout_ms"`
	Workspace      string `toml:"workspace"`
	EnableTools    bool   `toml:"enable_tools"`
	SandboxImage   string `toml:"sandbox_image"` // non-empty: shell runs in docker
}

type ScratchpadConfig struct {
	Path string `toml:"path"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	workspace := filepath.Join(home, "alloy-workspace")
	return Config{
		LLM:   LLMConfig{Model: "anthropic/claude-sonnet-4-5"},
		Agent: AgentConfig{MaxTurns: 10, MaxRetries: 3, RetryBackoffMS: 500, Workspace: workspace, EnableTools: true},
		Scratchpad: ScratchpadConfig{
			Path: filepath.Join(workspace, "scratchpad.db"),
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "alloy.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("ALLOY_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ALLOY_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ALLOY_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	return cfg
}
