package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile is the on-disk shape of a standalone mcp_servers manifest,
// independent of the main config file.
type manifestFile struct {
	Servers []*ServerConfig `json:"servers" yaml:"servers"`
}

// LoadManifest reads a standalone MCP server manifest (mcp_servers.json
// or .yaml) and returns its servers. Each server is validated before
// being returned so a malformed manifest fails at load time rather than
// at first connect.
func LoadManifest(path string) ([]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp manifest: %w", err)
	}

	var manifest manifestFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("parse mcp manifest: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("parse mcp manifest: %w", err)
		}
	}

	for _, server := range manifest.Servers {
		if server == nil {
			continue
		}
		if err := server.Validate(); err != nil {
			return nil, fmt.Errorf("mcp manifest %s: %w", path, err)
		}
	}

	return manifest.Servers, nil
}

// MergeManifest loads ManifestPath (if set) and appends its servers to
// cfg.Servers, skipping any ID already present so an inline config entry
// takes precedence over the manifest file.
func MergeManifest(cfg *Config) error {
	if cfg == nil || strings.TrimSpace(cfg.ManifestPath) == "" {
		return nil
	}

	servers, err := LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s != nil {
			existing[s.ID] = true
		}
	}

	for _, s := range servers {
		if s == nil || existing[s.ID] {
			continue
		}
		cfg.Servers = append(cfg.Servers, s)
	}

	return nil
}
