package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateEmbeddingCallsProviderAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{0.1, 0.2, 0.3}},
			ModelUsed:  "text-embedding-3-small",
		})
	}))
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL, DefaultModel: "text-embedding-3-small"}, nil)

	vec, err := svc.GenerateEmbedding(context.Background(), "hello world", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}

	// Second call for the same text should be served from the LRU cache,
	// not hit the provider again.
	if _, err := svc.GenerateEmbedding(context.Background(), "hello world", ""); err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected provider to be called once, got %d calls", calls)
	}
}

func TestGenerateEmbeddingProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL, DefaultModel: "text-embedding-3-small"}, nil)

	if _, err := svc.GenerateEmbedding(context.Background(), "hello", ""); err == nil {
		t.Fatalf("expected error from failing provider")
	}
}
