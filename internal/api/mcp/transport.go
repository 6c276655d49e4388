// Package mcp – transport.go provides the SSE transport that accepts
// MCP connections on /mcp/{client}/sse/{user}, resolves the caller's
// identity, registers it, opens a session, and relays JSON-RPC 2.0
// messages between the HTTP side and the Server.
//
// Protocol framing:
//   - GET /mcp/{client}/sse/{user} opens the event stream. The first
//     event ("endpoint") tells the client where to POST requests.
//   - POST /mcp/messages/?session_id={token} carries one JSON-RPC
//     request; the response is delivered as a "message" event on the
//     stream.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/scrypster/memgate/internal/identity"
	"github.com/scrypster/memgate/internal/registry"
	"github.com/scrypster/memgate/internal/session"
	"github.com/scrypster/memgate/pkg/types"
)

// messagesPath is where clients POST JSON-RPC requests.
const messagesPath = "/mcp/messages/"

// SSETransport accepts SSE connections, pins a caller Scope to each,
// and dispatches posted messages to the MCP server under that scope.
type SSETransport struct {
	server   *Server
	resolver *identity.Resolver
	registry *registry.Service
	sessions *session.Tracker
	logger   *log.Logger

	mu    sync.Mutex
	conns map[string]*sseConn // keyed by session token
}

// sseConn is one live event stream.
type sseConn struct {
	scope  *Scope
	events chan []byte
}

// NewSSETransport wires the transport to its collaborators.
func NewSSETransport(srv *Server, resolver *identity.Resolver, reg *registry.Service, sessions *session.Tracker) *SSETransport {
	return &SSETransport{
		server:   srv,
		resolver: resolver,
		registry: reg,
		sessions: sessions,
		logger:   log.New(log.Writer(), "[mcp-sse] ", log.LstdFlags),
		conns:    make(map[string]*sseConn),
	}
}

// Register mounts the transport's routes on a mux.
func (t *SSETransport) Register(mux *http.ServeMux) {
	mux.HandleFunc("/mcp/", t.HandleSSE)
	mux.HandleFunc(messagesPath, t.HandleMessage)
}

// HandleSSE accepts a new MCP connection. The full gate runs here,
// once per connection: resolve identity, ensure a registry entry,
// reject blocked clients, open a session, then stream events until
// the client disconnects.
func (t *SSETransport) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := identity.UserIDFromPath(r.URL.Path)
	if userID == "" {
		http.Error(w, "user id missing from path", http.StatusBadRequest)
		return
	}

	id := t.resolver.Resolve(r)
	entry, created, err := t.registry.EnsureRegistered(r.Context(), id)
	if err != nil {
		t.logger.Printf("registration failed for %s: %v", id.Identifier, err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	if created {
		t.logger.Printf("first contact from %s (type %s, status %s)",
			entry.Identifier, entry.ClientType, entry.Status)
	}
	if entry.Status == types.StatusBlocked {
		t.logger.Printf("rejected blocked client %s", entry.Identifier)
		http.Error(w, "client is blocked", http.StatusForbidden)
		return
	}
	if entry.Status.Quarantined() {
		t.logger.Printf("quarantined client %s connecting with limited functionality", entry.Identifier)
	}

	sess, err := t.sessions.Begin(r.Context(), session.BeginParams{
		RegistryID:      entry.ID,
		UserID:          userID,
		EndpointUsed:    r.URL.Path,
		UserAgent:       r.UserAgent(),
		RemoteAddr:      r.RemoteAddr,
		ConfidenceScore: id.ConfidenceScore,
	})
	if err != nil {
		t.logger.Printf("failed to open session: %v", err)
		http.Error(w, "failed to open session", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := &sseConn{
		scope: &Scope{
			UserID:         userID,
			Identity:       id,
			RegistryStatus: entry.Status,
			SessionToken:   sess.SessionToken,
		},
		events: make(chan []byte, 16),
	}
	t.mu.Lock()
	t.conns[sess.SessionToken] = conn
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.conns, sess.SessionToken)
		t.mu.Unlock()
		if err := t.sessions.End(context.Background(), sess.SessionToken); err != nil {
			t.logger.Printf("failed to end session %s: %v", sess.SessionToken, err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Tell the client where to POST its requests.
	fmt.Fprintf(w, "event: endpoint\ndata: %s?session_id=%s\n\n", messagesPath, sess.SessionToken)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-conn.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// HandleMessage accepts one JSON-RPC request for an open stream. The
// response travels back over the SSE stream; the POST itself only
// acknowledges receipt.
func (t *SSETransport) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("session_id")
	t.mu.Lock()
	conn := t.conns[token]
	t.mu.Unlock()
	if conn == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	if err := t.sessions.Touch(r.Context(), token); err != nil {
		t.logger.Printf("failed to touch session %s: %v", token, err)
	}

	ctx := WithScope(r.Context(), conn.scope)
	resp, err := t.server.HandleRequest(ctx, body)
	if err != nil {
		t.logger.Printf("handler error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	select {
	case conn.events <- resp:
	default:
		t.logger.Printf("dropping response for %s: event queue full", token)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, `{"status":"ok"}`)
}
