package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Server.HTTPPort != 9000 {
		t.Fatalf("expected http_port 9000, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Pool.PoolSize != 10 {
		t.Fatalf("expected default pool size 10, got %d", cfg.Pool.PoolSize)
	}
}

func TestLoadValidatesPipelineBounds(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  execution_concurrency: -1
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "pipeline.execution_concurrency") {
		t.Fatalf("expected pipeline.execution_concurrency error, got %v", err)
	}
}

func TestLoadValidatesPoolBounds(t *testing.T) {
	path := writeConfig(t, `
pool:
  timeout: -1s
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "pool.timeout") {
		t.Fatalf("expected pool.timeout error, got %v", err)
	}
}

func TestLoadValidatesToolsConcurrency(t *testing.T) {
	path := writeConfig(t, `
tools:
  concurrency: -1
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "tools.concurrency") {
		t.Fatalf("expected tools.concurrency error, got %v", err)
	}
}

func TestLoadValidatesPersistenceDriver(t *testing.T) {
	path := writeConfig(t, `
persistence:
  driver: mongodb
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "persistence.driver") {
		t.Fatalf("expected persistence.driver error, got %v", err)
	}
}

func TestLoadValidatesJWTSecretLength(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: too-short
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_LLM_PROVIDER", "openai")
	t.Setenv("CONDUCTOR_HTTP_PORT", "9191")
	t.Setenv("DATABASE_URL", "postgres://override@localhost:5432/conductor?sslmode=disable")

	path := writeConfig(t, `
server:
  host: 0.0.0.0
  http_port: 8080
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
    openai: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "openai" {
		t.Fatalf("expected provider override, got %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Server.HTTPPort != 9191 {
		t.Fatalf("expected http port override, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Persistence.DSN != "postgres://override@localhost:5432/conductor?sslmode=disable" {
		t.Fatalf("expected persistence dsn override, got %q", cfg.Persistence.DSN)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	includedPath := filepath.Join(dir, "llm.yaml")
	if err := os.WriteFile(includedPath, []byte(`
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte(`
$include: llm.yaml
server:
  http_port: 7000
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("expected included llm config, got %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Server.HTTPPort != 7000 {
		t.Fatalf("expected main document to win, got %d", cfg.Server.HTTPPort)
	}
}

func TestLoadSingleDocumentRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
---
llm:
  default_provider: openai
`)

	if _, err := loadSingleDocument(path); err == nil {
		t.Fatalf("expected error for multi-document file")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
