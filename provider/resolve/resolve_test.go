package resolve

import (
	"testing"

	alloy "github.com/alloyhq/alloy"
)

func TestModelResolvesVendors(t *testing.T) {
	tests := []struct {
		id       string
		provider string
		model    string
		baseURL  string
	}{
		{"anthropic/claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5", ""},
		{"openai/gpt-4o", "openai", "gpt-4o", ""},
		{"gemini/gemini-2.5-flash", "gemini", "gemini-2.5-flash", ""},
		{"deepseek/deepseek-chat", "openai", "deepseek-chat", "https://api.deepseek.com/v1"},
		{"ollama/llama3", "openai", "llama3", "http://localhost:11434/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, cfg, err := Model(tt.id, alloy.ProviderConfig{APIKey: "k"})
			if err != nil {
				t.Fatalf("Model: %v", err)
			}
			if p.Name() != tt.provider {
				t.Errorf("provider = %s, want %s", p.Name(), tt.provider)
			}
			if cfg.Model != tt.model {
				t.Errorf("model = %s, want %s", cfg.Model, tt.model)
			}
			if cfg.BaseURL != tt.baseURL {
				t.Errorf("base url = %s, want %s", cfg.BaseURL, tt.baseURL)
			}
			if cfg.APIKey != "k" {
				t.Errorf("api key dropped")
			}
		})
	}
}

func TestModelExplicitBaseURLWins(t *testing.T) {
	_, cfg, err := Model("deepseek/deepseek-chat", alloy.ProviderConfig{BaseURL: "http://proxy:8080/v1"})
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	if cfg.BaseURL != "http://proxy:8080/v1" {
		t.Errorf("base url = %s", cfg.BaseURL)
	}
}

func TestModelRejectsBadIdentifiers(t *testing.T) {
	for _, id := range []string{"", "nomodel", "unknown-vendor/model", "/model", "vendor/"} {
		if _, _, err := Model(id, alloy.ProviderConfig{}); err == nil {
			t.Errorf("identifier %q accepted", id)
		}
	}
}
