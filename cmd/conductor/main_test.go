package main

import (
	"testing"

	"github.com/haasonsaas/nexus/internal/config"
)

func TestBuildRootCmdRegistersSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := []string{"ask", "agents", "mcp-servers", "serve"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Fatalf("Find(%q) error = %v", name, err)
		}
		if cmd.Name() != name {
			t.Fatalf("expected command %q, got %q", name, cmd.Name())
		}
	}
}

func TestBuildProviderUnknownProvider(t *testing.T) {
	cfg := &config.RunConfig{
		LLM: config.LLMConfig{
			DefaultProvider: "not-a-real-provider",
			Providers: map[string]config.LLMProviderConfig{
				"not-a-real-provider": {},
			},
		},
	}

	if _, err := buildProvider(cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestBuildProviderMissingProviderEntry(t *testing.T) {
	cfg := &config.RunConfig{
		LLM: config.LLMConfig{
			DefaultProvider: "anthropic",
			Providers:       map[string]config.LLMProviderConfig{},
		},
	}

	if _, err := buildProvider(cfg); err == nil {
		t.Fatalf("expected error for missing provider entry")
	}
}

func TestBuildProviderAnthropicRequiresAPIKey(t *testing.T) {
	cfg := &config.RunConfig{
		LLM: config.LLMConfig{
			DefaultProvider: "anthropic",
			Providers: map[string]config.LLMProviderConfig{
				"anthropic": {},
			},
		},
	}

	if _, err := buildProvider(cfg); err == nil {
		t.Fatalf("expected error for missing anthropic api key")
	}
}
