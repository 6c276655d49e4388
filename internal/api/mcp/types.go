// Package mcp implements the Model Context Protocol (MCP) server for
// memgate. It exposes JSON-RPC 2.0 tools for storing, searching,
// listing, and deleting memories, with the caller identity resolved by
// the transport and carried in the request context.
package mcp

import "time"

// AddMemoriesArgs contains arguments for the add_memories tool.
type AddMemoriesArgs struct {
	// Text is the content to remember (required).
	Text string `json:"text"`

	// Infer controls semantic inference. Defaults to true; pass false
	// when the text is already a structured fact. Minimal content
	// (<=3 words or <=20 characters) forces raw storage regardless.
	Infer *bool `json:"infer,omitempty"`

	// AsyncMode defers post-commit processing (categorization) to the
	// background for a faster response.
	AsyncMode bool `json:"async_mode,omitempty"`
}

// InferRequested resolves the effective infer flag.
func (a AddMemoriesArgs) InferRequested() bool {
	return a.Infer == nil || *a.Infer
}

// AppliedResult is the per-operation outcome inside an
// AddMemoriesResult.
type AppliedResult struct {
	Event   string `json:"event"`            // ADD, UPDATE, DELETE, NONE
	ID      string `json:"id"`               // record id the operation targeted
	Memory  string `json:"memory,omitempty"` // the stored content
	Outcome string `json:"outcome"`          // created, updated, reactivated, deleted, skipped
	Error   string `json:"error,omitempty"`  // per-operation failure, if any
}

// AddMemoriesResult contains the result of adding memories.
type AddMemoriesResult struct {
	Results []AppliedResult `json:"results"`

	// Dropped counts phantom operations removed by the validator.
	Dropped int `json:"dropped,omitempty"`

	// RawFallback is set when inference was requested but the content
	// was too minimal and raw storage was used instead.
	RawFallback bool `json:"raw_fallback,omitempty"`

	// Limited is set when the client is quarantined and operating with
	// limited functionality pending review.
	Limited bool `json:"limited_functionality,omitempty"`

	Message string `json:"message,omitempty"`
}

// SearchMemoryArgs contains arguments for the search_memory tool.
type SearchMemoryArgs struct {
	Query string `json:"query"`           // search query (required)
	Limit int    `json:"limit,omitempty"` // max matches (default 10)
}

// SearchMatch is one ranked search result.
type SearchMatch struct {
	ID        string    `json:"id"`
	Memory    string    `json:"memory"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchMemoryResult contains the result of searching memories.
type SearchMemoryResult struct {
	Matches []SearchMatch `json:"matches"`
	Total   int           `json:"total"`
	Limited bool          `json:"limited_functionality,omitempty"`
}

// ListedMemory is one record in a list_memories response.
type ListedMemory struct {
	ID        string                 `json:"id"`
	Memory    string                 `json:"memory"`
	State     string                 `json:"state"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ListMemoriesResult contains the result of listing memories.
type ListMemoriesResult struct {
	Memories []ListedMemory `json:"memories"`
	Total    int            `json:"total"`
	Limited  bool           `json:"limited_functionality,omitempty"`
}

// DeleteAllMemoriesResult contains the result of delete_all_memories.
type DeleteAllMemoriesResult struct {
	Deleted int `json:"deleted"`

	// EngineFailures counts records whose semantic-index removal
	// failed. Those deletions still committed relationally; the
	// consistency auditor will surface the leftover projections.
	EngineFailures int `json:"engine_failures,omitempty"`

	Limited bool   `json:"limited_functionality,omitempty"`
	Message string `json:"message"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
