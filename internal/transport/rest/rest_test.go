package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/lexical"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/store"
	"github.com/shannon-memory/core/internal/transport"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	// A real (empty) lexical index, not nil, so memory_search (SearchText)
	// returns an empty result rather than CodeStoreUnavailable — it only
	// needs m.kv when a lexical hit exists to resolve, which an empty
	// index never produces, so the nil-client KVStore stays untouched.
	mm := memory.New(&store.KVStore{}, nil, lexical.New(zap.NewNop()), nil, nil, nil, zap.NewNop())
	d := transport.NewDispatcher(mm, nil, zap.NewNop())
	return NewHandler(d, nil, zap.NewNop())
}

func TestMemoryStoreThenFetch(t *testing.T) {
	h := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body := strings.NewReader(`{"agent_name":"assistant","key":"k1","value":"v1","scope":"working"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 storing a memory, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/memory/k1?agent_name=assistant", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching a memory, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["key"] != "k1" {
		t.Fatalf("expected key k1 in response, got %v", payload)
	}
}

// A miss on a key absent from working memory falls through to
// MemoryManager.RecallByKey's KVStore.Get call, which needs a live
// Postgres-backed db.Client, so the 404 path isn't covered by this
// package's nil-client test handler.

func TestMemoryCollectionRejectsWrongMethod(t *testing.T) {
	h := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/memory", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSearchWithoutOptionalParamsStillDispatches(t *testing.T) {
	h := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=hello", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
