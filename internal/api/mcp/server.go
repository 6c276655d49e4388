package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/memgate/internal/access"
	"github.com/scrypster/memgate/internal/lifecycle"
	"github.com/scrypster/memgate/internal/semantic"
	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/internal/validator"
	"github.com/scrypster/memgate/pkg/types"
)

// memoryEngine is the subset of the semantic engine used by the MCP
// server. Using an interface keeps the package loosely coupled and
// testable.
type memoryEngine interface {
	ProposeOperations(ctx context.Context, userID, content string, raw bool) ([]types.MemoryOperation, error)
	IndexRecord(ctx context.Context, rec *types.MemoryRecord) error
	Remove(ctx context.Context, ids ...string) error
	Search(ctx context.Context, userID, query string, limit int) ([]semantic.Hit, error)
}

// Server implements the Model Context Protocol (MCP) for memgate.
// Every tool call requires a caller Scope in its context; the SSE
// transport attaches it at connection time.
type Server struct {
	store        storage.Store
	engine       memoryEngine
	validator    *validator.Validator
	filter       *access.Filter
	tracker      *lifecycle.Tracker
	asyncTracker *lifecycle.Tracker
	hookOpts     []lifecycle.Option
	logger       *log.Logger
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithAccessFilter injects the access-control filter. Without it the
// server builds a default-allow filter over the store.
func WithAccessFilter(f *access.Filter) ServerOption {
	return func(s *Server) {
		s.filter = f
	}
}

// WithHook registers a post-commit lifecycle hook (e.g. the
// categorizer). Hooks run inline for normal calls and in the
// background for async_mode calls.
func WithHook(h lifecycle.Hook) ServerOption {
	return func(s *Server) {
		s.hookOpts = append(s.hookOpts, lifecycle.WithHook(h))
	}
}

// NewServer creates a new MCP server instance over the relational
// store and the semantic engine.
func NewServer(store storage.Store, engine memoryEngine, opts ...ServerOption) *Server {
	s := &Server{
		store:  store,
		engine: engine,
		logger: log.New(log.Writer(), "[mcp] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = validator.New(store)
	s.tracker = lifecycle.NewTracker(store, s.hookOpts...)
	s.asyncTracker = lifecycle.NewTracker(store,
		append(append([]lifecycle.Option{}, s.hookOpts...), lifecycle.WithDeferredHooks())...)
	if s.filter == nil {
		s.filter = access.NewFilter(store, store, true)
	}
	return s
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		// Notification; no response body required.
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods (kept for direct callers)
	case "add_memories":
		result, err = s.handleAddMemories(ctx, req.Params)
	case "search_memory":
		result, err = s.handleSearchMemory(ctx, req.Params)
	case "list_memories":
		result, err = s.handleListMemories(ctx, req.Params)
	case "delete_all_memories":
		result, err = s.handleDeleteAllMemories(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}

	return s.successResponse(req.ID, result)
}

// AddMemories stores new content: the semantic engine proposes an
// operation batch, the validator drops phantoms, and the lifecycle
// tracker applies what survives. Committed records are projected into
// the semantic index afterwards; projection failures degrade rather
// than fail, the auditor picks up the slack.
func (s *Server) AddMemories(ctx context.Context, args AddMemoriesArgs) (*AddMemoriesResult, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	if args.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	infer := args.InferRequested()
	raw := validator.ShouldUseRawStorage(args.Text, infer)

	ops, err := s.engine.ProposeOperations(ctx, scope.UserID, args.Text, raw)
	if err != nil {
		// Upstream unavailable: refuse before touching the store.
		return nil, fmt.Errorf("memory system temporarily unavailable: %w", err)
	}

	validated, err := s.validator.ValidateBatch(ctx, scope.UserID, ops)
	if err != nil {
		return nil, fmt.Errorf("failed to validate operations: %w", err)
	}

	tracker := s.tracker
	if args.AsyncMode {
		tracker = s.asyncTracker
	}
	applied := tracker.ApplyBatch(ctx, scope.UserID, scope.AppID(), validated.Validated)

	result := &AddMemoriesResult{
		Dropped:     len(validated.Dropped),
		RawFallback: raw && infer,
		Limited:     scope.Quarantined(),
	}
	for _, a := range applied {
		r := AppliedResult{
			Event:   a.Operation.Event,
			ID:      a.Operation.RecordID,
			Memory:  a.Operation.Content,
			Outcome: string(a.Outcome),
		}
		if a.Err != nil {
			r.Error = a.Err.Error()
		}
		result.Results = append(result.Results, r)

		if a.Err != nil || a.Record == nil {
			continue
		}
		switch a.Outcome {
		case lifecycle.OutcomeCreated, lifecycle.OutcomeUpdated, lifecycle.OutcomeReactivated:
			s.stampClientMetadata(ctx, a.Record, scope, args, raw && infer)
			if err := s.engine.IndexRecord(ctx, a.Record); err != nil {
				s.logger.Printf("failed to project %s into the index: %v", a.Record.ID, err)
			}
		case lifecycle.OutcomeDeleted:
			if err := s.engine.Remove(ctx, a.Record.ID); err != nil {
				s.logger.Printf("failed to remove %s from the index: %v", a.Record.ID, err)
			}
		}
	}

	if result.RawFallback {
		result.Message = "stored raw: content too minimal for inference"
	}
	return result, nil
}

// stampClientMetadata merges the connection details into the record's
// metadata. A metadata write is not a state transition, so no history
// row is produced.
func (s *Server) stampClientMetadata(ctx context.Context, rec *types.MemoryRecord, scope *Scope, args AddMemoriesArgs, fallback bool) {
	if rec.Metadata == nil {
		rec.Metadata = map[string]interface{}{}
	}
	rec.Metadata["source_app"] = "memgate"
	rec.Metadata["client_identifier"] = scope.Identity.Identifier
	rec.Metadata["client_type"] = scope.Identity.ClientType
	rec.Metadata["confidence_score"] = scope.Identity.ConfidenceScore
	rec.Metadata["registry_status"] = string(scope.RegistryStatus)
	rec.Metadata["infer"] = args.InferRequested()
	rec.Metadata["async_mode"] = args.AsyncMode
	if scope.Identity.ModelName != "" {
		rec.Metadata["model_name"] = scope.Identity.ModelName
	}
	if scope.Identity.ClientVersion != "" {
		rec.Metadata["client_version"] = scope.Identity.ClientVersion
	}
	if fallback {
		rec.Metadata["auto_fallback"] = "true"
		rec.Metadata["fallback_reason"] = "minimal_content"
	}
	if err := s.store.UpsertRecord(ctx, rec, nil); err != nil {
		s.logger.Printf("failed to stamp metadata on %s: %v", rec.ID, err)
	}
}

// SearchMemory embeds the query, searches the semantic index, and
// filters the hits through access control. One access-log row is
// written per returned match.
func (s *Server) SearchMemory(ctx context.Context, args SearchMemoryArgs) (*SearchMemoryResult, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	hits, err := s.engine.Search(ctx, scope.UserID, args.Query, args.Limit)
	if err != nil {
		return nil, fmt.Errorf("memory system temporarily unavailable: %w", err)
	}

	result := &SearchMemoryResult{Limited: scope.Quarantined()}
	for _, hit := range hits {
		ok, err := s.filter.Allowed(ctx, scope.AppID(), hit.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate access: %w", err)
		}
		if !ok {
			continue
		}

		rec, err := s.store.GetRecord(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// A phantom projection. The auditor will report it.
				s.logger.Printf("search hit %s has no relational record", hit.ID)
				continue
			}
			return nil, fmt.Errorf("failed to load record %s: %w", hit.ID, err)
		}
		if rec.State.Terminal() {
			continue
		}

		s.filter.RecordAccess(ctx, scope.AppID(), hit.ID, types.AccessSearch, map[string]interface{}{
			"query": args.Query,
			"score": hit.Score,
		})
		result.Matches = append(result.Matches, SearchMatch{
			ID:        hit.ID,
			Memory:    hit.Content,
			Score:     hit.Score,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	result.Total = len(result.Matches)
	return result, nil
}

// ListMemories returns every live record the caller may see, writing
// one access-log row per returned record.
func (s *Server) ListMemories(ctx context.Context) (*ListMemoriesResult, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListRecords(ctx, scope.UserID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	visible, err := s.filter.FilterRecords(ctx, scope.AppID(), records)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate access: %w", err)
	}

	result := &ListMemoriesResult{Limited: scope.Quarantined()}
	for _, rec := range visible {
		s.filter.RecordAccess(ctx, scope.AppID(), rec.ID, types.AccessList, nil)
		result.Memories = append(result.Memories, ListedMemory{
			ID:        rec.ID,
			Memory:    rec.Content,
			State:     string(rec.State),
			Metadata:  rec.Metadata,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	result.Total = len(result.Memories)
	return result, nil
}

// DeleteAllMemories soft-deletes every record the caller may see.
// Semantic-index removals are best effort: a failing removal is
// counted and logged, the relational deletion still commits with its
// history and access-log rows.
func (s *Server) DeleteAllMemories(ctx context.Context) (*DeleteAllMemoriesResult, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListRecords(ctx, scope.UserID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	accessible, err := s.filter.FilterRecords(ctx, scope.AppID(), records)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate access: %w", err)
	}

	result := &DeleteAllMemoriesResult{Limited: scope.Quarantined()}
	for _, rec := range accessible {
		if err := s.engine.Remove(ctx, rec.ID); err != nil {
			result.EngineFailures++
			s.logger.Printf("failed to remove %s from the index: %v", rec.ID, err)
		}

		if _, err := s.store.TransitionRecord(ctx, rec.ID, types.StateDeleted, scope.UserID); err != nil {
			s.logger.Printf("failed to delete %s: %v", rec.ID, err)
			continue
		}
		s.filter.RecordAccess(ctx, scope.AppID(), rec.ID, types.AccessDeleteAll, map[string]interface{}{
			"operation": "bulk_delete",
		})
		result.Deleted++
	}

	result.Message = fmt.Sprintf("deleted %d memories", result.Deleted)
	return result, nil
}

// ---------------------------------------------------------------------------
// JSON-RPC parameter plumbing
// ---------------------------------------------------------------------------

func (s *Server) handleAddMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args AddMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.AddMemories(ctx, args)
}

func (s *Server) handleSearchMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.SearchMemory(ctx, args)
}

func (s *Server) handleListMemories(ctx context.Context, params interface{}) (interface{}, error) {
	return s.ListMemories(ctx)
}

func (s *Server) handleDeleteAllMemories(ctx context.Context, params interface{}) (interface{}, error) {
	return s.DeleteAllMemories(ctx)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "memgate",
			Version: "1.0.0",
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate
// handler and wraps the result in the MCP content envelope.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	// Re-marshal arguments so they can be passed to the handlers which
	// expect an interface{} produced by JSON unmarshal.
	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "add_memories":
		result, handlerErr = s.handleAddMemories(ctx, rawParams)
	case "search_memory":
		result, handlerErr = s.handleSearchMemory(ctx, rawParams)
	case "list_memories":
		result, handlerErr = s.handleListMemories(ctx, rawParams)
	case "delete_all_memories":
		result, handlerErr = s.handleDeleteAllMemories(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "add_memories",
			Description: "Add a new memory. Call this whenever the user shares anything about themselves, their preferences, or anything worth remembering for future conversations. Pass infer=false when the text is already a structured fact. Pass async_mode=true for faster responses with background categorization.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"text"},
				"properties": map[string]interface{}{
					"text":       map[string]interface{}{"type": "string", "description": "The content to remember (required)"},
					"infer":      map[string]interface{}{"type": "boolean", "description": "Run semantic inference (default true). Very short content is stored raw regardless."},
					"async_mode": map[string]interface{}{"type": "boolean", "description": "Defer categorization to the background (default false)"},
				},
			},
		},
		{
			Name:        "search_memory",
			Description: "Search through stored memories. Call this every time the user asks anything; returns ranked matches with score, content, and timestamps.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Natural-language search query (required)"},
					"limit": map[string]interface{}{"type": "integer", "description": "Max matches to return (default 10)"},
				},
			},
		},
		{
			Name:        "list_memories",
			Description: "List all memories in the user's memory store.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "delete_all_memories",
			Description: "Delete all memories in the user's memory store. Deletions are soft: records move to the deleted state with full history.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}

	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
