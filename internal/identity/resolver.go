package identity

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"

	"github.com/scrypster/memgate/pkg/types"
)

// versionRe extracts a semantic version token from a user-agent string,
// e.g. "claude-code/1.2.3" or "SomeTool version 0.4.1".
var versionRe = regexp.MustCompile(`(?i)(?:version|v)[\s/]?(\d+\.\d+\.\d+)`)

// Resolver turns HTTP requests into ClientIdentity values. It holds no
// mutable state; one Resolver serves all requests.
type Resolver struct {
	patterns *PatternTable
}

// NewResolver creates a resolver over a compiled pattern table.
func NewResolver(patterns *PatternTable) *Resolver {
	return &Resolver{patterns: patterns}
}

// Resolve detects the client behind a request. Detection layers are
// tried in confidence order: endpoint template, explicit headers,
// user-agent sniffing, and finally a hash-based unknown identity.
// Resolve never fails; every request gets an identity.
func (r *Resolver) Resolve(req *http.Request) *types.ClientIdentity {
	path := req.URL.Path
	userAgent := req.Header.Get("User-Agent")

	if id := r.resolveFromEndpoint(path); id != nil {
		r.enhanceWithHeaders(id, req)
		return id
	}

	if id := r.resolveFromHeaders(req); id != nil {
		return id
	}

	if id := r.resolveFromUserAgent(userAgent); id != nil {
		return id
	}

	return unknownIdentity(req, userAgent)
}

func (r *Resolver) resolveFromEndpoint(path string) *types.ClientIdentity {
	for _, p := range r.patterns.endpoints {
		m := p.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}

		modelName := p.defaultModel
		if len(m) > 1 && m[1] != "" {
			modelName = m[1]
		}

		identifier := p.clientType
		if modelName != "" {
			if p.clientType == "ollama" {
				// Model names carry a colon (llama3.1:8b); the path form
				// uses an underscore. The identifier keeps the URL-safe
				// form, the model name the canonical one.
				identifier = "ollama-" + strings.ReplaceAll(modelName, ":", "_")
				modelName = strings.ReplaceAll(modelName, "_", ":")
			} else {
				identifier = p.clientType + "-" + modelName
			}
		}

		return &types.ClientIdentity{
			Identifier:      identifier,
			ClientType:      p.clientType,
			ModelName:       modelName,
			ConfidenceScore: ConfidenceEndpoint,
			Source:          types.SourceEndpoint,
		}
	}
	return nil
}

func (r *Resolver) resolveFromHeaders(req *http.Request) *types.ClientIdentity {
	referer := req.Header.Get("Referer")
	origin := req.Header.Get("Origin")

	// The first-party web UI runs on localhost:3000 and is trusted
	// outright.
	if strings.Contains(referer, "localhost:3000") || strings.Contains(origin, "localhost:3000") {
		return &types.ClientIdentity{
			Identifier:      WebUIIdentifier,
			ClientType:      WebUIIdentifier,
			ConfidenceScore: ConfidenceWebUI,
			Source:          types.SourceHeaders,
			Metadata: map[string]interface{}{
				"referer": referer,
				"origin":  origin,
			},
		}
	}

	clientID := req.Header.Get("X-Client-Id")
	mcpClient := req.Header.Get("X-Mcp-Client")
	modelName := req.Header.Get("X-Model-Name")
	clientVersion := req.Header.Get("X-Client-Version")

	identifier := clientID
	if identifier == "" {
		identifier = mcpClient
	}
	if identifier == "" {
		return nil
	}

	// Model-specific ollama identifiers like "ollama-llama3.1:8b"
	// embed the model name after the dash.
	if strings.HasPrefix(strings.ToLower(identifier), "ollama-") {
		if modelName == "" {
			modelName = identifier[len("ollama-"):]
		}
		return &types.ClientIdentity{
			Identifier:      identifier,
			ClientType:      "ollama",
			ModelName:       modelName,
			ClientVersion:   clientVersion,
			ConfidenceScore: ConfidenceHeaders,
			Source:          types.SourceHeaders,
		}
	}

	clientType, ok := r.patterns.headerClientTypes[strings.ToLower(identifier)]
	if !ok {
		clientType = "unknown"
	}

	return &types.ClientIdentity{
		Identifier:      identifier,
		ClientType:      clientType,
		ModelName:       modelName,
		ClientVersion:   clientVersion,
		ConfidenceScore: ConfidenceHeaders,
		Source:          types.SourceHeaders,
	}
}

func (r *Resolver) resolveFromUserAgent(userAgent string) *types.ClientIdentity {
	if userAgent == "" {
		return nil
	}

	for _, p := range r.patterns.userAgents {
		if !p.re.MatchString(userAgent) {
			continue
		}

		var version string
		if m := versionRe.FindStringSubmatch(userAgent); m != nil {
			version = m[1]
		}

		return &types.ClientIdentity{
			Identifier:      p.clientType,
			ClientType:      p.clientType,
			ClientVersion:   version,
			ConfidenceScore: ConfidenceUserAgent,
			Source:          types.SourceUserAgent,
		}
	}
	return nil
}

// enhanceWithHeaders fills model/version and raw request details onto
// an endpoint-detected identity.
func (r *Resolver) enhanceWithHeaders(id *types.ClientIdentity, req *http.Request) {
	if id.ModelName == "" {
		id.ModelName = req.Header.Get("X-Model-Name")
	}
	if id.ClientVersion == "" {
		id.ClientVersion = req.Header.Get("X-Client-Version")
	}

	if id.Metadata == nil {
		id.Metadata = make(map[string]interface{})
	}
	id.Metadata["user_agent"] = req.Header.Get("User-Agent")
	id.Metadata["referer"] = req.Header.Get("Referer")
	id.Metadata["origin"] = req.Header.Get("Origin")
	id.Metadata["host"] = req.Host
}

// unknownIdentity builds the fallback identity for a request no layer
// recognized. The identifier is derived from the user-agent alone so
// the same unrecognized tool keeps landing on the same registry entry.
func unknownIdentity(req *http.Request, userAgent string) *types.ClientIdentity {
	if userAgent == "" {
		userAgent = "unknown"
	}
	sum := md5.Sum([]byte(userAgent))
	hash := hex.EncodeToString(sum[:])[:8]

	return &types.ClientIdentity{
		Identifier:      "unknown-" + hash,
		ClientType:      "unknown",
		ConfidenceScore: ConfidenceUnknown,
		Source:          types.SourceUnknown,
		Metadata: map[string]interface{}{
			"user_agent": userAgent,
			"url":        req.URL.String(),
			"method":     req.Method,
		},
	}
}

// UserIDFromPath extracts the user id from an SSE endpoint path of the
// form /mcp/{client}/sse/{user}. Returns empty when the path doesn't
// carry one.
func UserIDFromPath(path string) string {
	const marker = "/sse/"
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	rest := strings.Trim(path[i+len(marker):], "/")
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
