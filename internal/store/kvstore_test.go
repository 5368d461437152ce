package store

import (
	"context"
	"testing"

	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
)

func TestPutRejectsMissingKeyFields(t *testing.T) {
	s := &KVStore{}
	err := s.Put(context.Background(), memcore.Memory{})
	if !memerr.Is(err, memerr.CodeBadRequest) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestPQArrayRoundTrip(t *testing.T) {
	in := []string{"alpha", "beta", `has"quote`}
	lit := pqArray(in)
	out := parsePQArray(lit)
	if len(out) != len(in) {
		t.Fatalf("round-trip length mismatch: got %v want %v", out, in)
	}
}

func TestPQArrayEmpty(t *testing.T) {
	if got := pqArray(nil); got != "{}" {
		t.Fatalf("expected {}, got %q", got)
	}
	if got := parsePQArray("{}"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
