package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shannon-memory/core/internal/coding"
	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/store"
)

// newTestDispatcher builds a Dispatcher backed by a working-scope-only
// MemoryManager (nil db.Client KVStore, same "&store.KVStore{} is safe for
// scope=working" convention internal/memory/manager_test.go establishes)
// plus a sqlite-backed CodingMemory, mirroring internal/coding/coding_test.go's
// newTestGraph/newTestManager helpers.
func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mm := memory.New(&store.KVStore{}, nil, nil, nil, nil, nil, zap.NewNop())

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	gs, err := graph.New(gdb, zap.NewNop())
	if err != nil {
		t.Fatalf("new graph store: %v", err)
	}
	if err := gs.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	cm := coding.New(nil, gs, nil, zap.NewNop())

	return NewDispatcher(mm, cm, zap.NewNop())
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func TestDispatchUnknownToolIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Call(context.Background(), "u1", "does_not_exist", nil)
	if err == nil {
		t.Fatalf("expected error for unknown tool")
	}
}

func TestDispatchMemoryStoreAndFetchRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	storeParams := mustMarshal(t, map[string]any{
		"agent_name": "assistant",
		"key":        "favorite_color",
		"value":      "teal",
		"scope":      "working",
	})
	if _, err := d.Call(ctx, "u1", "memory_store", storeParams); err != nil {
		t.Fatalf("memory_store: %v", err)
	}

	fetchParams := mustMarshal(t, map[string]any{"agent_name": "assistant", "key": "favorite_color"})
	result, err := d.Call(ctx, "u1", "memory_fetch", fetchParams)
	if err != nil {
		t.Fatalf("memory_fetch: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a memory back")
	}
}

// A miss on a key absent from working memory falls through to
// MemoryManager.RecallByKey's KVStore.Get call, which needs a live
// Postgres-backed db.Client — not covered here for the same reason
// internal/memory/manager_test.go's tests stay scope=working-only.

func TestDispatchCodingStartSession(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	params := mustMarshal(t, map[string]any{"project_id": "p1", "description": "work", "tags": []string{"go"}})
	result, err := d.Call(ctx, "u1", "coding_start_session", params)
	if err != nil {
		t.Fatalf("coding_start_session: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a session back")
	}
}

func TestDispatchCodingToolsUnavailableWithoutCodingManager(t *testing.T) {
	mm := memory.New(&store.KVStore{}, nil, nil, nil, nil, nil, zap.NewNop())
	d := NewDispatcher(mm, nil, zap.NewNop())
	if _, err := d.Call(context.Background(), "u1", "coding_start_session", mustMarshal(t, map[string]any{"project_id": "p1"})); err == nil {
		t.Fatalf("expected error without a coding manager wired")
	}
}

func TestToolNamesCoversSpecCoding12(t *testing.T) {
	count := 0
	for _, n := range ToolNames {
		if len(n) > 7 && n[:7] == "coding_" {
			count++
		}
	}
	if count != 12 {
		t.Fatalf("expected 12 coding_* tool names, got %d", count)
	}
}
