// transport.go provides the Streamable HTTP binding for the MCP server:
// POST /mcp for JSON-RPC requests (single or batch), GET /mcp for a
// server-sent-event stream, DELETE /mcp to terminate a transport session.
// Session affinity runs over the Mcp-Session-Id header: allocated on first
// contact, echoed on every response.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simplemem/simplemem/internal/auth"
	"github.com/simplemem/simplemem/pkg/types"
)

const (
	sessionHeader = "Mcp-Session-Id"

	// maxBodyBytes caps a POST body; batches of tool calls stay well under
	// this.
	maxBodyBytes = 4 * 1024 * 1024

	// keepAliveInterval paces SSE comment frames so idle streams survive
	// intermediaries.
	keepAliveInterval = 25 * time.Second
)

// HTTPTransport serves the MCP protocol over HTTP. It owns the transport
// session table; JSON-RPC semantics live in Server.
type HTTPTransport struct {
	server *Server

	mu       sync.Mutex
	sessions map[string]time.Time // session id -> last seen
}

// NewHTTPTransport wraps srv in the Streamable HTTP binding.
func NewHTTPTransport(srv *Server) *HTTPTransport {
	return &HTTPTransport{
		server:   srv,
		sessions: make(map[string]time.Time),
	}
}

// ServeHTTP routes /mcp by method.
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleSSE(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// authenticate extracts and verifies the bearer token. Every MCP call
// requires it.
func (t *HTTPTransport) authenticate(r *http.Request) (auth.TenantContext, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.TenantContext{}, fmt.Errorf("%w: missing Authorization header", types.ErrAuth)
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return auth.TenantContext{}, fmt.Errorf("%w: Authorization header is not a bearer token", types.ErrAuth)
	}
	return t.server.auth.Verify(r.Context(), token)
}

// resolveSession echoes an existing Mcp-Session-Id or allocates one.
func (t *HTTPTransport) resolveSession(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		id = uuid.NewString()
	}

	t.mu.Lock()
	t.sessions[id] = time.Now()
	t.mu.Unlock()

	w.Header().Set(sessionHeader, id)
	return id
}

// handlePost processes a single JSON-RPC request or a batch. Batch members
// run sequentially; the response array preserves request order.
func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	tc, err := t.authenticate(r)
	if err != nil {
		t.writeRPCError(w, http.StatusUnauthorized, types.RPCCodeAuth, err.Error())
		return
	}
	t.resolveSession(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		t.writeRPCError(w, http.StatusBadRequest, types.RPCCodeParse, "read body: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		t.handleBatch(r.Context(), w, tc, []byte(trimmed))
		return
	}

	resp, err := t.server.HandleRequest(r.Context(), tc, body)
	if err != nil {
		log.Printf("mcp: handler error: %v", err)
		t.writeRPCError(w, http.StatusInternalServerError, types.RPCCodeInternal, err.Error())
		return
	}
	_, _ = w.Write(resp)
}

func (t *HTTPTransport) handleBatch(ctx context.Context, w http.ResponseWriter, tc auth.TenantContext, body []byte) {
	var requests []json.RawMessage
	if err := json.Unmarshal(body, &requests); err != nil {
		t.writeRPCError(w, http.StatusBadRequest, types.RPCCodeParse, "parse batch: "+err.Error())
		return
	}
	if len(requests) == 0 {
		t.writeRPCError(w, http.StatusBadRequest, types.RPCCodeInvalidRequest, "empty batch")
		return
	}

	responses := make([]json.RawMessage, 0, len(requests))
	for _, raw := range requests {
		resp, err := t.server.HandleRequest(ctx, tc, raw)
		if err != nil {
			log.Printf("mcp: batch member error: %v", err)
			continue
		}
		responses = append(responses, resp)
	}

	out, err := json.Marshal(responses)
	if err != nil {
		t.writeRPCError(w, http.StatusInternalServerError, types.RPCCodeInternal, err.Error())
		return
	}
	_, _ = w.Write(out)
}

// handleSSE opens the server-to-client event stream. The stream stays open
// until the client disconnects; keep-alive comments pace idle periods.
func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, err := t.authenticate(r); err != nil {
		t.writeRPCError(w, http.StatusUnauthorized, types.RPCCodeAuth, err.Error())
		return
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "expected Accept: text/event-stream", http.StatusNotAcceptable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := t.resolveSession(w, r)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client gone; no orphan work continues for this stream.
			return
		case <-ticker.C:
			t.mu.Lock()
			_, alive := t.sessions[id]
			t.mu.Unlock()
			if !alive {
				return
			}
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleDelete terminates the transport session named by the header. Open
// SSE streams for the session close on their next tick.
func (t *HTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := t.authenticate(r); err != nil {
		t.writeRPCError(w, http.StatusUnauthorized, types.RPCCodeAuth, err.Error())
		return
	}

	id := r.Header.Get(sessionHeader)
	if id == "" {
		http.Error(w, "missing "+sessionHeader+" header", http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	_, existed := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()

	if !existed {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message},
	})
}
