package config

// LLMConfig configures C4's provider dispatch: which provider is the
// default, the per-provider credentials/endpoints, and the fallback
// order tried when the default provider's call fails.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default
	// provider fails. Providers are tried in order until one succeeds.
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig configures one of C4's four provider backends
// (anthropic, openai, google, bedrock).
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`

	// Region is used by the bedrock provider; ignored by the others.
	Region string `yaml:"region"`
}
