// Package identity resolves which client is behind an HTTP request.
//
// Resolution is a pure function of the request: path, headers, and
// user-agent in, ClientIdentity out. The pattern table is compiled once
// at startup and never mutated afterwards, so the resolver is safe for
// concurrent use without locks and the same request always resolves to
// the same identity.
package identity

import (
	"fmt"
	"regexp"

	"github.com/scrypster/memgate/internal/config"
)

// Detection confidence scores by source. Endpoint templates are the
// most trustworthy signal, explicit headers next, user-agent sniffing
// last. The first-party web UI is recognized by its referer and scores
// full confidence.
const (
	ConfidenceWebUI     = 100
	ConfidenceEndpoint  = 95
	ConfidenceHeaders   = 85
	ConfidenceUserAgent = 70
	ConfidenceUnknown   = 0
)

// WebUIIdentifier is the registry identifier for the first-party admin
// web UI.
const WebUIIdentifier = "memgate-ui"

// endpointPattern matches a path against one endpoint template. A
// pattern with a capture group extracts the model name from the path.
type endpointPattern struct {
	re         *regexp.Regexp
	clientType string
	// defaultModel is reported when the template implies a model but
	// the path doesn't carry one.
	defaultModel string
}

// uaPattern matches a user-agent string to a client family.
type uaPattern struct {
	re         *regexp.Regexp
	clientType string
}

// PatternTable is the compiled, immutable detection pattern set.
type PatternTable struct {
	endpoints  []endpointPattern
	userAgents []uaPattern

	// headerClientTypes maps x-client-id / x-mcp-client values to
	// client families.
	headerClientTypes map[string]string
}

// defaultEndpointPatterns are matched in order; more specific templates
// come before their generic fallbacks.
var defaultEndpointPatterns = []struct {
	pattern      string
	clientType   string
	defaultModel string
}{
	{`/mcp/claude-code/`, "claude-code", ""},
	{`/mcp/claude-desktop/`, "claude-desktop", ""},
	{`/mcp/ollama-([^/]+)/`, "ollama", ""},
	{`/mcp/ollama/`, "ollama", ""},
	{`/mcp/vscode-claude/`, "claude-vscode", "claude-3.5-sonnet"},
	{`/mcp/vscode-gpt/`, "vscode-gpt", "gpt-4"},
	{`/mcp/vscode-([^/]+)/`, "vscode-generic", ""},
}

var defaultUserAgentPatterns = []struct {
	pattern    string
	clientType string
}{
	{`claude-code`, "claude-code"},
	{`anthropic-claude-code`, "claude-code"},
	{`@anthropic/claude-code`, "claude-code"},
	{`electron.*claude`, "claude-desktop"},
	{`claude-desktop`, "claude-desktop"},
	{`anthropic.*desktop`, "claude-desktop"},
	{`vscode.*claude`, "claude-vscode"},
	{`visual.?studio.?code.*claude`, "claude-vscode"},
	{`code-oss.*claude`, "claude-vscode"},
	{`cursor.*claude`, "claude-vscode"},
	{`ollama`, "ollama"},
	{`llama.*cpp`, "ollama"},
	{`ollama-[\w\.\:]+`, "ollama"},
	{`vscode`, "vscode-generic"},
	{`visual.?studio.?code`, "vscode-generic"},
	{`code-oss`, "vscode-generic"},
	{`cursor`, "vscode-generic"},
}

var defaultHeaderClientTypes = map[string]string{
	"claude-code":    "claude-code",
	"claude-desktop": "claude-desktop",
	"desktop":        "claude-desktop",
	"vscode-claude":  "claude-vscode",
	"claude-vscode":  "claude-vscode",
	"vscode":         "vscode-generic",
	"ollama":         "ollama",
}

// NewPatternTable compiles the built-in patterns plus any extensions
// from a YAML patterns file. Extensions are additive and are tried
// after the built-ins.
func NewPatternTable(ext *config.PatternsFile) (*PatternTable, error) {
	table := &PatternTable{
		headerClientTypes: defaultHeaderClientTypes,
	}

	for _, p := range defaultEndpointPatterns {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			return nil, fmt.Errorf("identity: bad endpoint pattern %q: %w", p.pattern, err)
		}
		table.endpoints = append(table.endpoints, endpointPattern{
			re: re, clientType: p.clientType, defaultModel: p.defaultModel,
		})
	}

	for _, p := range defaultUserAgentPatterns {
		re, err := regexp.Compile(`(?i)` + p.pattern)
		if err != nil {
			return nil, fmt.Errorf("identity: bad user-agent pattern %q: %w", p.pattern, err)
		}
		table.userAgents = append(table.userAgents, uaPattern{re: re, clientType: p.clientType})
	}

	if ext != nil {
		for _, e := range ext.Endpoints {
			pattern := regexp.QuoteMeta(e.Prefix)
			if e.Kind == "model" {
				pattern += `([^/]+)/`
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("identity: bad endpoint extension %q: %w", e.Prefix, err)
			}
			table.endpoints = append(table.endpoints, endpointPattern{re: re, clientType: e.ClientType})
		}
		for _, u := range ext.UserAgents {
			re, err := regexp.Compile(`(?i)` + u.Pattern)
			if err != nil {
				return nil, fmt.Errorf("identity: bad user-agent extension %q: %w", u.Pattern, err)
			}
			table.userAgents = append(table.userAgents, uaPattern{re: re, clientType: u.ClientType})
		}
	}

	return table, nil
}

// MustDefaultTable builds the built-in pattern table and panics on
// failure. The built-in patterns are constants, so failure is a
// programming error.
func MustDefaultTable() *PatternTable {
	table, err := NewPatternTable(nil)
	if err != nil {
		panic(err)
	}
	return table
}
