package rerank

import (
	"context"
	"testing"

	"github.com/shannon-memory/core/internal/memerr"
)

func TestRerankNilDegradesToUpstreamFailure(t *testing.T) {
	var r *OpenAIReranker
	_, err := r.Rerank(context.Background(), "q", []Candidate{{ID: "a", Text: "x"}})
	if !memerr.Is(err, memerr.CodeUpstreamFailure) {
		t.Fatalf("expected UpstreamFailure for unavailable reranker, got %v", err)
	}
}

func TestExtractJSONArrayStripsProse(t *testing.T) {
	in := `Sure, here you go:\n[{"id":"a","score":0.9}]\nHope that helps!`
	got := extractJSONArray(in)
	want := `[{"id":"a","score":0.9}]`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRerankEmptyCandidates(t *testing.T) {
	r := New(nil, nil)
	out, err := r.Rerank(context.Background(), "q", nil)
	if out != nil || err != nil {
		t.Fatalf("expected nil,nil for empty candidates, got %v, %v", out, err)
	}
}
