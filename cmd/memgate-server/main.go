package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/memgate/internal/access"
	"github.com/scrypster/memgate/internal/api/mcp"
	"github.com/scrypster/memgate/internal/audit"
	"github.com/scrypster/memgate/internal/config"
	"github.com/scrypster/memgate/internal/identity"
	"github.com/scrypster/memgate/internal/lifecycle"
	"github.com/scrypster/memgate/internal/registry"
	"github.com/scrypster/memgate/internal/semantic"
	"github.com/scrypster/memgate/internal/semantic/pgvector"
	"github.com/scrypster/memgate/internal/server"
	"github.com/scrypster/memgate/internal/session"
	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/web/handlers"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := sqlite.NewStore(cfg.Storage.DataPath + "/memgate.db")
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Identity resolver with optional pattern extensions from YAML.
	table := identity.MustDefaultTable()
	if cfg.Detection.PatternsPath != "" {
		ext, err := config.LoadPatternsFile(cfg.Detection.PatternsPath)
		if err != nil {
			log.Fatalf("Failed to load detection patterns: %v", err)
		}
		table, err = identity.NewPatternTable(ext)
		if err != nil {
			log.Fatalf("Failed to compile detection patterns: %v", err)
		}
	}
	resolver := identity.NewResolver(table)

	// Semantic side: pgvector when a DSN is configured, otherwise the
	// in-process index. Either way a circuit breaker guards the calls.
	var index semantic.Index
	if cfg.Semantic.PostgresDSN != "" {
		pgIndex, err := pgvector.NewIndex(cfg.Semantic.PostgresDSN, cfg.Semantic.EmbeddingDim)
		if err != nil {
			log.Fatalf("Failed to connect to vector index: %v", err)
		}
		defer pgIndex.Close()
		index = pgIndex
		log.Println("Using pgvector semantic index")
	} else {
		index = semantic.NewMemoryIndex()
		log.Println("No MEMGATE_PGVECTOR_DSN set, using in-process semantic index")
	}
	engine := semantic.NewEngine(
		semantic.Guard(index, semantic.DefaultBreakerConfig()),
		semantic.NewOllamaEmbedder(semantic.OllamaConfig{
			BaseURL: cfg.Semantic.OllamaURL,
			Model:   cfg.Semantic.EmbeddingModel,
		}),
	)

	// The hub exists before the registry so trust events reach admin UIs.
	hub := handlers.NewWebSocketHub()
	reg, err := registry.NewService(store,
		registry.WithNotifier(hub),
		registry.WithAutoApprove(cfg.Trust.AutoApproveKnown),
	)
	if err != nil {
		log.Fatalf("Failed to initialize registry: %v", err)
	}

	sessions := session.NewTracker(store, cfg.Trust.SessionIdleTimeout)
	go sessions.RunReaper(ctx, time.Minute)

	auditor := audit.NewAuditor(store, engine, cfg.Audit.DivergenceSampleSize)
	if cfg.Audit.Interval > 0 {
		go auditor.RunLoop(ctx, cfg.Audit.Interval)
	}

	filter := access.NewFilter(store, store, cfg.Access.DefaultAllow)
	mcpServer := mcp.NewServer(store, engine,
		mcp.WithAccessFilter(filter),
		mcp.WithHook(lifecycle.NewCategorizer(store)),
	)

	addr, err := server.Start(ctx, cfg, server.Deps{
		Store:    store,
		MCP:      mcpServer,
		Resolver: resolver,
		Registry: reg,
		Sessions: sessions,
		Auditor:  auditor,
		Hub:      hub,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("memgate listening on http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
