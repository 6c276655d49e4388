package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memgate/internal/api/mcp"
	"github.com/scrypster/memgate/internal/audit"
	"github.com/scrypster/memgate/internal/config"
	"github.com/scrypster/memgate/internal/identity"
	"github.com/scrypster/memgate/internal/registry"
	"github.com/scrypster/memgate/internal/semantic"
	"github.com/scrypster/memgate/internal/session"
	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/web/handlers"
)

func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := handlers.NewWebSocketHub()
	reg, err := registry.NewService(store, registry.WithNotifier(hub))
	require.NoError(t, err)

	engine := semantic.NewEngine(semantic.NewMemoryIndex(), staticEmbedder{})
	sessions := session.NewTracker(store, time.Minute)
	resolver := identity.NewResolver(identity.MustDefaultTable())
	auditor := audit.NewAuditor(store, engine, 10)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, err := Start(ctx, cfg, Deps{
		Store:    store,
		MCP:      mcp.NewServer(store, engine),
		Resolver: resolver,
		Registry: reg,
		Sessions: sessions,
		Auditor:  auditor,
		Hub:      hub,
	})
	require.NoError(t, err)
	return "http://" + addr
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r)
	}
	return v, nil
}

func devConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{SecurityMode: "development"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	base := startTestServer(t, devConfig())

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAPIMounted(t *testing.T) {
	base := startTestServer(t, devConfig())

	resp, err := http.Get(base + "/api/clients")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAPIRequiresTokenInProduction(t *testing.T) {
	cfg := devConfig()
	cfg.Security = config.SecurityConfig{SecurityMode: "production", APIToken: "secret"}
	base := startTestServer(t, cfg)

	resp, err := http.Get(base + "/api/clients")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, base+"/api/clients", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// MCP endpoints are not behind admin auth.
	mcpResp, err := http.Get(base + "/mcp/claude-code/sse/alice")
	require.NoError(t, err)
	defer mcpResp.Body.Close()
	assert.Equal(t, http.StatusOK, mcpResp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	base := startTestServer(t, devConfig())

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
