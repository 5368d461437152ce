package jsonrpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SSEHandler serves the same JSON-RPC envelope Server.Serve speaks over
// stdio, but over HTTP+SSE: a long-lived GET stream delivers responses,
// paired with a POST endpoint clients submit requests to (spec.md §1's
// "JSON-RPC tool protocol over stdio/HTTP-SSE" — the remote counterpart to
// the local stdio transport). Grounded on the teacher's
// internal/httpapi/streaming.go SSE flush-loop (text/event-stream headers,
// http.Flusher, a heartbeat ticker keeping intermediaries from timing out
// an idle connection), generalized from workflow-event delivery to
// JSON-RPC response delivery.
type SSEHandler struct {
	server *Server
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]chan *Response
}

// NewSSEHandler wraps an existing Server (the same one that would serve
// stdio) for HTTP+SSE delivery.
func NewSSEHandler(server *Server, logger *zap.Logger) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEHandler{server: server, logger: logger, sessions: make(map[string]chan *Response)}
}

// RegisterRoutes mounts the SSE stream and message-submission endpoints.
func (h *SSEHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/sse", h.handleSSE)
	mux.HandleFunc("/messages", h.handleMessage)
}

// handleSSE opens a per-client event stream. The first event announces the
// session-scoped POST endpoint the client must submit requests to; every
// JSON-RPC response to a request on that session is then delivered as a
// subsequent "message" event on this same stream, the way the pre-
// Streamable-HTTP MCP transport pairs a GET stream with a POST channel.
func (h *SSEHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	ch := make(chan *Response, 16)
	h.mu.Lock()
	h.sessions[sessionID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "event: endpoint\ndata: /messages?session_id=%s\n\n", sessionID)
	flusher.Flush()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case resp, open := <-ch:
			if !open {
				return
			}
			buf, err := json.Marshal(resp)
			if err != nil {
				h.logger.Warn("failed to marshal sse response", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", buf)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// handleMessage accepts one JSON-RPC request body, dispatches it through
// the same Server.handleLine path stdio uses, and delivers the response
// onto the caller's SSE stream rather than in the POST response body
// itself (a 202 is all the POST gets) — notifications (no id) have no
// response to deliver, matching Server.Serve's own "no id, no response"
// contract.
func (h *SSEHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	h.mu.Lock()
	ch, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or expired session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16*1024*1024))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := h.server.handleLine(r.Context(), body)
	if resp != nil {
		select {
		case ch <- resp:
		default:
			h.logger.Warn("sse session response channel full, dropping response",
				zap.String("session_id", sessionID))
		}
	}
	w.WriteHeader(http.StatusAccepted)
}
