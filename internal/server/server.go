// Package server assembles the memgate HTTP surface: the MCP endpoints
// clients connect to and the authenticated admin API, on one listener.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/memgate/internal/api/mcp"
	"github.com/scrypster/memgate/internal/audit"
	"github.com/scrypster/memgate/internal/config"
	"github.com/scrypster/memgate/internal/identity"
	"github.com/scrypster/memgate/internal/registry"
	"github.com/scrypster/memgate/internal/session"
	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/web/handlers"
)

// Deps carries the constructed subsystems the server mounts. The caller
// builds them (see cmd/memgate-server) because the websocket hub has to
// exist before the registry service that notifies it.
type Deps struct {
	Store    storage.Store
	MCP      *mcp.Server
	Resolver *identity.Resolver
	Registry *registry.Service
	Sessions *session.Tracker
	Auditor  *audit.Auditor
	Hub      *handlers.WebSocketHub
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0).
func Start(ctx context.Context, cfg *config.Config, d Deps) (string, error) {
	mux := http.NewServeMux()

	go d.Hub.Run()

	// MCP endpoints: no admin auth here, client trust is the registry's
	// job and is enforced per connection by the transport.
	transport := mcp.NewSSETransport(d.MCP, d.Resolver, d.Registry, d.Sessions)
	transport.Register(mux)

	// Admin API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	handlers.NewRegistryHandlers(d.Registry, d.Store).RegisterRoutes(apiMux)
	handlers.NewSessionHandlers(d.Sessions).RegisterRoutes(apiMux)
	handlers.NewConsistencyHandlers(d.Auditor).RegisterRoutes(apiMux)
	handlers.NewRuleHandlers(d.Store).RegisterRoutes(apiMux)
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Health endpoint - no auth required, used by monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", d.Hub)

	// Wrap entire server with rate limiting, then security headers
	rateLimiter := handlers.NewRateLimiter(50.0, 100)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// No write timeout: SSE streams stay open for the life of the client
	// connection.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[server] serve error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] shutdown error: %v", err)
		}
		d.Hub.Stop()
	}()

	return actualAddr, nil
}
