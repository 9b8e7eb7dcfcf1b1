// Package config loads and validates the runtime's configuration file:
// server/CLI settings, the C4 LLM provider table, C10/C11 tuning knobs,
// the MCP server manifest, persistence, and observability.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/mcp"
	"gopkg.in/yaml.v3"
)

// RunConfig is the top-level configuration for the conductor runtime.
type RunConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Pool          PoolConfig          `yaml:"pool"`
	Process       ProcessConfig       `yaml:"process"`
	MCP           mcp.Config          `yaml:"mcp"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the `conductor serve` HTTP front end.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// PersistenceConfig selects the conversation/session-log backend behind
// spec.md §6's persistence interface.
type PersistenceConfig struct {
	// Driver is "sqlite", "sqlite-cgo", or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the database/sql data source name.
	DSN string `yaml:"dsn"`
}

// AuthConfig configures JWT issuance for the `serve` HTTP surface.
type AuthConfig struct {
	JWTSecret   string   `yaml:"jwt_secret"`
	TokenExpiry Duration `yaml:"token_expiry"`
}

// PipelineConfig mirrors delegate.Config's tunables for YAML decoding;
// cmd/conductor copies these into a delegate.Config at startup.
type PipelineConfig struct {
	ExecutionConcurrency int `yaml:"execution_concurrency"`
	MaxFollowUpDepth     int `yaml:"max_follow_up_depth"`
}

// PoolConfig mirrors pool.Config's tunables for YAML decoding.
type PoolConfig struct {
	PoolSize    int      `yaml:"pool_size"`
	MaxIdleTime Duration `yaml:"max_idle_time"`
	Timeout     Duration `yaml:"timeout"`
}

// ProcessConfig mirrors process.Config's tunables for YAML decoding.
type ProcessConfig struct {
	MaxBufferLines int `yaml:"max_buffer_lines"`
}

// LoggingConfig controls the teacher-style structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing for the runtime.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Load reads path, resolves $include directives, decodes it, applies
// environment overrides and defaults, then validates the result.
func Load(path string) (*RunConfig, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := mcp.MergeManifest(&cfg.MCP); err != nil {
		return nil, fmt.Errorf("failed to load mcp manifest: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSingleDocument reads path directly (no $include resolution) and
// decodes it as a single YAML document with unknown fields rejected.
// Kept for callers (and tests) that want strict single-file loading
// without the include-merging LoadRaw performs.
func loadSingleDocument(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg RunConfig
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	return &cfg, nil
}

func applyDefaults(cfg *RunConfig) {
	applyServerDefaults(&cfg.Server)
	applyAuthDefaults(&cfg.Auth)
	applyLLMDefaults(&cfg.LLM)
	applyPipelineDefaults(&cfg.Pipeline)
	applyPoolDefaults(&cfg.Pool)
	applyProcessDefaults(&cfg.Process)
	applyToolsDefaults(&cfg.Tools)
	applyLoggingDefaults(&cfg.Logging)
	applyPersistenceDefaults(&cfg.Persistence)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = Duration(24 * time.Hour)
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.ExecutionConcurrency == 0 {
		cfg.ExecutionConcurrency = 4
	}
	if cfg.MaxFollowUpDepth == 0 {
		cfg.MaxFollowUpDepth = 2
	}
}

func applyPoolDefaults(cfg *PoolConfig) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.MaxIdleTime == 0 {
		cfg.MaxIdleTime = Duration(5 * time.Minute)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Duration(30 * time.Second)
	}
}

func applyProcessDefaults(cfg *ProcessConfig) {
	if cfg.MaxBufferLines == 0 {
		cfg.MaxBufferLines = 1000
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyPersistenceDefaults(cfg *PersistenceConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.DSN == "" {
		cfg.DSN = "conductor.db"
	}
}

// DefaultWorkspaceDBPath returns the default sqlite path used when
// Persistence.DSN is left at its zero value.
func DefaultWorkspaceDBPath() string {
	return filepath.Join(".", "conductor.db")
}

func applyEnvOverrides(cfg *RunConfig) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("CONDUCTOR_LLM_PROVIDER")); value != "" {
		cfg.LLM.DefaultProvider = value
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "anthropic", value)
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "openai", value)
	}
	if value := strings.TrimSpace(os.Getenv("CONDUCTOR_MCP_SERVERS_PATH")); value != "" {
		cfg.MCP.ManifestPath = value
	}
	if value := strings.TrimSpace(os.Getenv("CONDUCTOR_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("CONDUCTOR_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Persistence.DSN = value
	}
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
}

func setProviderAPIKey(cfg *LLMConfig, provider, key string) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.Providers[provider]
	entry.APIKey = key
	cfg.Providers[provider] = entry
}

// ConfigValidationError accumulates every validation issue found so a
// caller sees the full list in one pass rather than fixing one field at
// a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *RunConfig) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Server.HTTPPort < 0 {
		issues = append(issues, "server.http_port must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	if cfg.Pipeline.ExecutionConcurrency < 0 {
		issues = append(issues, "pipeline.execution_concurrency must be >= 0")
	}
	if cfg.Pipeline.MaxFollowUpDepth < 0 {
		issues = append(issues, "pipeline.max_follow_up_depth must be >= 0")
	}

	if cfg.Pool.PoolSize < 0 {
		issues = append(issues, "pool.pool_size must be >= 0")
	}
	if cfg.Pool.MaxIdleTime < 0 {
		issues = append(issues, "pool.max_idle_time must be >= 0")
	}
	if cfg.Pool.Timeout < 0 {
		issues = append(issues, "pool.timeout must be >= 0")
	}

	if cfg.Process.MaxBufferLines < 0 {
		issues = append(issues, "process.max_buffer_lines must be >= 0")
	}

	if toolIssues := validateToolsConfig(&cfg.Tools); len(toolIssues) > 0 {
		issues = append(issues, toolIssues...)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Persistence.Driver)) {
	case "", "sqlite", "sqlite-cgo", "postgres":
	default:
		issues = append(issues, "persistence.driver must be \"sqlite\", \"sqlite-cgo\", or \"postgres\"")
	}

	for i, server := range cfg.MCP.Servers {
		if server == nil {
			continue
		}
		if err := server.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d]: %v", i, err))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
