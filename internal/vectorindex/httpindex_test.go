package vectorindex

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/shannon-memory/core/internal/vectordb"
)

// qdrantStub fakes just enough of Qdrant's /points/query response shape to
// exercise HTTPIndex.Search's request construction and response decoding.
func qdrantStub(t *testing.T, gotCollection *string, gotFilter *map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/", func(w http.ResponseWriter, r *http.Request) {
		// path: /collections/{collection}/points/query
		parts := r.URL.Path[len("/collections/"):]
		*gotCollection = parts[:len(parts)-len("/points/query")]

		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f, ok := body["filter"].(map[string]interface{}); ok {
			*gotFilter = f
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "ok",
			"result": {
				"points": [
					{"id": "mem1", "score": 0.91, "payload": {}},
					{"id": "mem2", "score": 0.4, "payload": {}}
				]
			}
		}`))
	})
	return httptest.NewServer(mux)
}

func newTestHTTPIndex(t *testing.T, gotCollection *string, gotFilter *map[string]interface{}) (*HTTPIndex, func()) {
	t.Helper()
	srv := qdrantStub(t, gotCollection, gotFilter)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse stub url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	vectordb.Initialize(vectordb.Config{Enabled: true, Host: u.Hostname(), Port: port})
	return NewHTTPIndex(vectordb.Get(), "text-embedding-3-small", 0), srv.Close
}

func TestHTTPIndexSearchScopesCollectionAndFilter(t *testing.T) {
	var gotCollection string
	var gotFilter map[string]interface{}
	idx, closeFn := newTestHTTPIndex(t, &gotCollection, &gotFilter)
	defer closeFn()

	results, err := idx.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 5, Filter{
		UserID:    "u1",
		AgentName: "coding",
		Scope:     "persistent",
		Tags:      []string{"bug"},
	})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	if want := "mem_coding_persistent"; gotCollection != want {
		t.Fatalf("collection = %q, want %q (agent/scope pushdown lost)", gotCollection, want)
	}

	must, ok := gotFilter["must"].([]interface{})
	if !ok || len(must) == 0 {
		t.Fatalf("expected a non-empty must clause, got %v", gotFilter)
	}
	foundUser, foundTag := false, false
	for _, clause := range must {
		m, ok := clause.(map[string]interface{})
		if !ok {
			continue
		}
		if m["key"] == "user_id" {
			if match, ok := m["match"].(map[string]interface{}); ok && match["value"] == "u1" {
				foundUser = true
			}
		}
		if m["key"] == "tags" {
			if match, ok := m["match"].(map[string]interface{}); ok && match["value"] == "bug" {
				foundTag = true
			}
		}
	}
	if !foundUser {
		t.Fatalf("expected user_id filter clause, got %v", gotFilter)
	}
	if !foundTag {
		t.Fatalf("expected tags filter clause, got %v", gotFilter)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Qdrant score 0.91 is cosine distance 0.09, i.e. similarity 1 − 0.09/2.
	if results[0].ID != "mem1" || math.Abs(results[0].Sim-0.955) > 1e-9 {
		t.Fatalf("unexpected top result: %+v", results[0])
	}
	if results[0].Meta.AgentName != "coding" || results[0].Meta.Scope != "persistent" {
		t.Fatalf("unexpected result metadata: %+v", results[0].Meta)
	}
}

func TestHTTPIndexSearchDefaultsAgentAndScope(t *testing.T) {
	var gotCollection string
	var gotFilter map[string]interface{}
	idx, closeFn := newTestHTTPIndex(t, &gotCollection, &gotFilter)
	defer closeFn()

	if _, err := idx.Search(context.Background(), []float32{0.1}, 5, Filter{UserID: "u1"}); err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if want := "mem_global_persistent"; gotCollection != want {
		t.Fatalf("collection = %q, want %q", gotCollection, want)
	}
}
