package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EndpointPatternSpec declares one endpoint template for client
// detection, e.g. path "/mcp/claude-code/sse/" with client type
// "claude-code". Templates match by prefix; the remainder of the path
// carries the user id or the model name depending on the kind.
type EndpointPatternSpec struct {
	// Prefix is the path prefix to match, including the trailing slash.
	Prefix string `yaml:"prefix"`

	// ClientType is the client family this endpoint identifies.
	ClientType string `yaml:"client_type"`

	// Kind is "user" when the path remainder is a user id, "model" when
	// it is a model name (ollama-style endpoints). Default: "user".
	Kind string `yaml:"kind,omitempty"`
}

// UserAgentPatternSpec declares one user-agent regex for client
// detection.
type UserAgentPatternSpec struct {
	// Pattern is a regular expression matched case-insensitively against
	// the User-Agent header.
	Pattern string `yaml:"pattern"`

	// ClientType is the client family this pattern identifies.
	ClientType string `yaml:"client_type"`
}

// PatternsFile is the YAML document shape for extending the built-in
// detection patterns. Extensions are additive; built-ins cannot be
// removed or overridden, only supplemented.
type PatternsFile struct {
	Endpoints  []EndpointPatternSpec  `yaml:"endpoints,omitempty"`
	UserAgents []UserAgentPatternSpec `yaml:"user_agents,omitempty"`
}

// LoadPatternsFile parses a YAML pattern extension file. Returns an
// empty PatternsFile when path is empty.
func LoadPatternsFile(path string) (*PatternsFile, error) {
	if path == "" {
		return &PatternsFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read patterns file %s: %w", path, err)
	}

	var pf PatternsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("config: failed to parse patterns file %s: %w", path, err)
	}

	for i, ep := range pf.Endpoints {
		if ep.Prefix == "" || ep.ClientType == "" {
			return nil, fmt.Errorf("config: patterns file %s: endpoint %d needs prefix and client_type", path, i)
		}
		if ep.Kind != "" && ep.Kind != "user" && ep.Kind != "model" {
			return nil, fmt.Errorf("config: patterns file %s: endpoint %d has unknown kind %q", path, i, ep.Kind)
		}
	}
	for i, ua := range pf.UserAgents {
		if ua.Pattern == "" || ua.ClientType == "" {
			return nil, fmt.Errorf("config: patterns file %s: user_agent %d needs pattern and client_type", path, i)
		}
	}

	return &pf, nil
}
