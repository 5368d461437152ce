// Package jsonrpc implements the stdio-local tool surface: a JSON-RPC 2.0
// server reading newline-delimited requests from an io.Reader and writing
// newline-delimited responses to an io.Writer, covering "initialize",
// "tools/list", and "tools/call" (spec §6.1, §7). This is the local,
// stdio-attached transport; internal/transport/rest covers the remote HTTP
// surface the same spec section calls out as running over the network
// instead of a pipe.
//
// A hand-rolled envelope was chosen over an MCP SDK from the example pack's
// other_examples/manifests/ directory: those entries are bare go.mod files
// with no vendored source to ground an implementation on, and the
// JSON-RPC 2.0 envelope itself is a small, fully-specified wire format that
// doesn't need a dependency to get right — see DESIGN.md.
package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/auth"
	"github.com/shannon-memory/core/internal/authgate"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/metrics"
	"github.com/shannon-memory/core/internal/transport"
)

const component = "JSONRPCServer"
const protocolVersion = "2024-11-05"
const serverName = "memcore"

// Request is a JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response object; exactly one of Result/Error
// is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC 2.0 error object.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDescriptor is one entry of tools/list's result, in the shape MCP-style
// clients expect: a name plus a free-form JSON schema for its arguments.
// Schemas here are intentionally permissive (object, no required/properties
// enforcement) since per-tool validation already happens in
// transport.Dispatcher.Call via each tool's param struct.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Server reads JSON-RPC requests from an input stream, dispatches tool
// calls through a shared transport.Dispatcher, and writes responses to an
// output stream. One Server handles one logical stdio session: the
// identity resolved at "initialize" time (or the no-auth local default)
// applies to every subsequent tools/call on that stream, the way a local
// stdio-attached MCP client has exactly one identity for its lifetime.
type Server struct {
	dispatcher *transport.Dispatcher
	gate       *authgate.Gate
	logger     *zap.Logger

	mu sync.Mutex
	uc *auth.UserContext
}

// NewServer constructs a Server. gate may be nil to skip identification and
// tool filtering entirely (every tool is allowed, user_id resolved from the
// X-User-ID-equivalent param only) — used in tests and single-tenant local
// setups that don't wire internal/auth at all.
func NewServer(dispatcher *transport.Dispatcher, gate *authgate.Gate, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{dispatcher: dispatcher, gate: gate, logger: logger}
}

// Serve reads newline-delimited JSON-RPC requests from r until EOF or ctx
// is done, writing one newline-delimited response per request to w.
// Malformed lines get a JSON-RPC parse-error response rather than
// terminating the stream, since a single bad frame shouldn't kill a long-
// lived stdio session.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)
	var writeMu sync.Mutex

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineCopy := append([]byte(nil), line...)
		resp := s.handleLine(ctx, lineCopy)
		if resp == nil {
			continue // a notification (no id): JSON-RPC 2.0 requires no response
		}
		writeMu.Lock()
		err := enc.Encode(resp)
		writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return &Response{JSONRPC: "2.0", Error: &ErrorObject{Code: -32700, Message: "parse error"}}
	}
	if req.Method == "" {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: &ErrorObject{Code: -32600, Message: "invalid request"}}
	}

	start := time.Now()
	result, rpcErr := s.dispatch(ctx, req)
	metrics.TransportRequestLatency.WithLabelValues("jsonrpc", req.Method).Observe(time.Since(start).Seconds())
	status := "ok"
	if rpcErr != nil {
		status = "error"
	}
	metrics.TransportRequests.WithLabelValues("jsonrpc", req.Method, status).Inc()

	if len(req.ID) == 0 {
		return nil // notification
	}
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, *ErrorObject) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "tools/list":
		return s.handleToolsList(ctx)
	case "tools/call":
		return s.handleToolsCall(ctx, req.Params)
	default:
		return nil, &ErrorObject{Code: -32601, Message: "method not found: " + req.Method}
	}
}

type initializeParams struct {
	UserID      string `json:"user_id"`
	BearerToken string `json:"bearer_token"`
}

func (s *Server) handleInitialize(raw json.RawMessage) (any, *ErrorObject) {
	var p initializeParams
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p) // best-effort: a malformed initialize still gets the local default identity
	}
	s.mu.Lock()
	if s.gate != nil {
		s.uc = s.gate.Identify(context.Background())
	}
	s.mu.Unlock()
	return map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo":      map[string]string{"name": serverName, "version": protocolVersion},
	}, nil
}

func (s *Server) identity(ctx context.Context) *auth.UserContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uc != nil {
		return s.uc
	}
	if s.gate != nil {
		s.uc = s.gate.Identify(ctx)
		return s.uc
	}
	return nil
}

func (s *Server) handleToolsList(ctx context.Context) (any, *ErrorObject) {
	names := append([]string(nil), transport.ToolNames...)
	if s.gate != nil {
		filtered, err := s.gate.FilterTools(ctx, names)
		if err != nil {
			return nil, toRPCError(err)
		}
		names = filtered
	}
	tools := make([]ToolDescriptor, 0, len(names))
	for _, n := range names {
		tools = append(tools, ToolDescriptor{
			Name:        n,
			Description: n,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return map[string]any{"tools": tools}, nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	UserID    string          `json:"user_id"`
}

func (s *Server) handleToolsCall(ctx context.Context, raw json.RawMessage) (any, *ErrorObject) {
	var p toolsCallParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ErrorObject{Code: -32602, Message: "invalid params"}
	}
	if p.Name == "" {
		return nil, &ErrorObject{Code: -32602, Message: "missing tool name"}
	}

	if s.gate != nil {
		allowed, err := s.gate.CanInvoke(ctx, p.Name)
		if err != nil {
			return nil, toRPCError(err)
		}
		if !allowed {
			metrics.ToolInvocationsDenied.WithLabelValues(p.Name).Inc()
			return nil, &ErrorObject{
				Code:    memerr.JSONRPCCode(memerr.CodeForbidden),
				Message: "tool not permitted for this caller",
			}
		}
	}

	userID := transport.ResolveUserID(s.identity(ctx), p.UserID)
	result, err := s.dispatcher.Call(ctx, userID, p.Name, p.Arguments)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func toRPCError(err error) *ErrorObject {
	code := memerr.CodeOf(err)
	return &ErrorObject{Code: memerr.JSONRPCCode(code), Message: err.Error()}
}
