package vectorindex

import (
	"context"
	"testing"

	"github.com/shannon-memory/core/internal/memerr"
)

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity(0); got != 1 {
		t.Fatalf("distance 0 should give similarity 1, got %v", got)
	}
	if got := CosineSimilarity(2); got != 0 {
		t.Fatalf("distance 2 should give similarity 0, got %v", got)
	}
}

func TestCollectionName(t *testing.T) {
	if got := CollectionName("global", "persistent"); got != "mem_global_persistent" {
		t.Fatalf("unexpected collection name %q", got)
	}
}

func TestPGVectorIndexModelMismatch(t *testing.T) {
	idx := &PGVectorIndex{modelName: "text-embedding-3-small", dim: 1536}
	err := idx.Upsert(context.Background(), "id1", make([]float32, 8), Metadata{UserID: "u1"})
	if !memerr.Is(err, memerr.CodeConflict) {
		t.Fatalf("expected Conflict (ModelMismatch), got %v", err)
	}
}

func TestPQArrayRoundTrip(t *testing.T) {
	in := []string{"a", "b", `has"quote`}
	out := parsePQArray(pqArray(in))
	if len(out) != len(in) {
		t.Fatalf("round-trip mismatch: got %v want %v", out, in)
	}
}
