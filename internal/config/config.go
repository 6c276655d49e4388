// Package config provides configuration management for memgate.
// It loads settings from environment variables with the MEMGATE_ prefix
// and provides sensible defaults for all configuration options.
//
// Client detection patterns (endpoint templates, header names, user-agent
// regexes) can additionally be extended from a YAML file; see patterns.go.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the memgate application.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Semantic  SemanticConfig
	Trust     TrustConfig
	Access    AccessConfig
	Audit     AuditConfig
	Security  SecurityConfig
	Detection DetectionConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 8765)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains relational store configuration.
type StorageConfig struct {
	DataPath string // Path to data directory (default: ./data)
}

// SemanticConfig contains semantic index configuration. The semantic
// index is a projection of the relational store; the relational store
// always wins on disagreement.
type SemanticConfig struct {
	PostgresDSN    string // Connection string for the pgvector index
	EmbeddingDim   int    // Embedding vector dimension (default: 768)
	OllamaURL      string // Embedding provider URL (default: http://localhost:11434)
	EmbeddingModel string // Embedding model name (default: nomic-embed-text)
}

// TrustConfig controls client registry behavior.
type TrustConfig struct {
	// AutoApproveKnown auto-approves clients detected with high
	// confidence (endpoint or headers). Unknown clients always start
	// quarantined regardless of this flag. (default: true)
	AutoApproveKnown bool

	// SessionIdleTimeout is how long a session may go without activity
	// before the reaper stamps it ended. (default: 30m)
	SessionIdleTimeout time.Duration
}

// AccessConfig controls the access-control filter.
type AccessConfig struct {
	// DefaultAllow is the verdict when no rule matches a subject/object
	// pair. The historical behavior is allow; set MEMGATE_ACL_DEFAULT=deny
	// to fail closed. (default: true)
	DefaultAllow bool
}

// AuditConfig controls the consistency auditor.
type AuditConfig struct {
	// Interval between background consistency checks. Zero disables the
	// background loop; on-demand checks remain available. (default: 15m)
	Interval time.Duration

	// DivergenceSampleSize caps how many divergent ids a report lists
	// per side. (default: 10)
	DivergenceSampleSize int
}

// SecurityConfig contains admin surface authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // Admin API authentication token
}

// DetectionConfig contains identity resolver settings.
type DetectionConfig struct {
	// PatternsPath points to an optional YAML file with additional
	// detection patterns. Empty means built-in patterns only.
	PatternsPath string
}

// LoadConfig loads configuration from environment variables with
// sensible defaults. All environment variables use the MEMGATE_ prefix.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("MEMGATE_PORT", 8765),
			Host: getEnv("MEMGATE_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			DataPath: getEnv("MEMGATE_DATA_PATH", "./data"),
		},
		Semantic: SemanticConfig{
			PostgresDSN:    getEnv("MEMGATE_PGVECTOR_DSN", ""),
			EmbeddingDim:   getEnvInt("MEMGATE_EMBEDDING_DIM", 768),
			OllamaURL:      getEnv("MEMGATE_OLLAMA_URL", "http://localhost:11434"),
			EmbeddingModel: getEnv("MEMGATE_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Trust: TrustConfig{
			AutoApproveKnown:   getEnvBool("MEMGATE_AUTO_APPROVE_KNOWN", true),
			SessionIdleTimeout: getEnvDuration("MEMGATE_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		},
		Access: AccessConfig{
			DefaultAllow: getEnv("MEMGATE_ACL_DEFAULT", "allow") != "deny",
		},
		Audit: AuditConfig{
			Interval:             getEnvDuration("MEMGATE_AUDIT_INTERVAL", 15*time.Minute),
			DivergenceSampleSize: getEnvInt("MEMGATE_AUDIT_SAMPLE_SIZE", 10),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("MEMGATE_SECURITY_MODE", "development"),
			APIToken:     getEnv("MEMGATE_API_TOKEN", ""),
		},
		Detection: DetectionConfig{
			PatternsPath: getEnv("MEMGATE_PATTERNS_PATH", ""),
		},
	}, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a
// default value. Accepts Go duration syntax ("30m", "1h30m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
