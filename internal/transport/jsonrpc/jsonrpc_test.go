package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/auth"
	"github.com/shannon-memory/core/internal/authgate"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/store"
	"github.com/shannon-memory/core/internal/transport"
)

func newTestDispatcher(t *testing.T) *transport.Dispatcher {
	t.Helper()
	mm := memory.New(&store.KVStore{}, nil, nil, nil, nil, nil, zap.NewNop())
	return transport.NewDispatcher(mm, nil, zap.NewNop())
}

func newTestGate(t *testing.T) *authgate.Gate {
	t.Helper()
	g, err := authgate.New(auth.NewMiddleware(nil, nil, false), zap.NewNop())
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return g
}

func runLines(t *testing.T, s *Server, lines []string) []Response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestInitializeThenToolsList(t *testing.T) {
	s := NewServer(newTestDispatcher(t), newTestGate(t), zap.NewNop())
	responses := runLines(t, s, []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	})
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if responses[1].Error != nil {
		t.Fatalf("unexpected error from tools/list: %v", responses[1].Error)
	}
	resMap, ok := responses[1].Result.(map[string]any)
	if !ok {
		t.Fatalf("expected tools/list result to decode as a map, got %T", responses[1].Result)
	}
	tools, ok := resMap["tools"].([]any)
	if !ok || len(tools) == 0 {
		t.Fatalf("expected a non-empty tools list, got %v", resMap["tools"])
	}
	// file_*/dir_*/shell_*/media_open_* aren't in the surface at all, so
	// the remote-default identity here should see every tool advertised.
	if len(tools) != len(transport.ToolNames) {
		t.Fatalf("expected all %d tools advertised for a non-denylisted surface, got %d", len(transport.ToolNames), len(tools))
	}
}

func TestToolsCallMemoryStoreAndFetch(t *testing.T) {
	s := NewServer(newTestDispatcher(t), newTestGate(t), zap.NewNop())
	responses := runLines(t, s, []string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"memory_store","user_id":"u1","arguments":{"agent_name":"assistant","key":"k","value":"v","scope":"working"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"memory_fetch","user_id":"u1","arguments":{"agent_name":"assistant","key":"k"}}}`,
	})
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	for _, r := range responses {
		if r.Error != nil {
			t.Fatalf("unexpected error: %v", r.Error)
		}
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := NewServer(newTestDispatcher(t), newTestGate(t), zap.NewNop())
	responses := runLines(t, s, []string{`{"jsonrpc":"2.0","id":1,"method":"bogus"}`})
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %v", responses[0].Error)
	}
}

func TestMalformedLineReturnsParseError(t *testing.T) {
	s := NewServer(newTestDispatcher(t), newTestGate(t), zap.NewNop())
	responses := runLines(t, s, []string{`not json`})
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != -32700 {
		t.Fatalf("expected parse error, got %v", responses[0].Error)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	s := NewServer(newTestDispatcher(t), newTestGate(t), zap.NewNop())
	responses := runLines(t, s, []string{`{"jsonrpc":"2.0","method":"tools/list"}`})
	if len(responses) != 0 {
		t.Fatalf("expected no response for a notification (no id), got %d", len(responses))
	}
}
