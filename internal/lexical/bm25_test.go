package lexical

import "testing"

func TestTokenizeCJKEmitsPerRune(t *testing.T) {
	toks := Tokenize("东京tokyo")
	// Expect 2 CJK runes as separate tokens plus the Latin run "tokyo".
	want := []string{"东", "京", "tokyo"}
	if len(toks) != len(want) {
		t.Fatalf("got %v, want %v", toks, want)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("got %v, want %v", toks, want)
		}
	}
}

func TestTokenizeCaseFold(t *testing.T) {
	toks := Tokenize("SnapDish")
	if len(toks) != 1 || toks[0] != "snapdish" {
		t.Fatalf("expected single lowercase token, got %v", toks)
	}
}

func TestBM25ExactTokenRanksFirst(t *testing.T) {
	idx := New(nil)
	meta := Metadata{UserID: "u1", AgentName: "global", Scope: "persistent"}
	idx.Upsert("m1", "SnapDish is a photo app", meta)
	idx.Upsert("m2", "a completely unrelated memory about cooking", meta)

	results := idx.Search("SnapDish", 5, Filter{UserID: "u1", AgentName: "global"})
	if len(results) == 0 || results[0].ID != "m1" {
		t.Fatalf("expected m1 to rank first, got %v", results)
	}
}

func TestBM25EmptyQueryReturnsEmpty(t *testing.T) {
	idx := New(nil)
	idx.Upsert("m1", "hello world", Metadata{UserID: "u1", AgentName: "global"})
	if got := idx.Search("", 5, Filter{UserID: "u1", AgentName: "global"}); got != nil {
		t.Fatalf("expected nil for empty query, got %v", got)
	}
}

func TestBM25DeleteRemovesFromPostings(t *testing.T) {
	idx := New(nil)
	meta := Metadata{UserID: "u1", AgentName: "global"}
	idx.Upsert("m1", "snapdish photo app", meta)
	idx.Delete("m1", meta)
	if got := idx.Search("snapdish", 5, Filter{UserID: "u1", AgentName: "global"}); len(got) != 0 {
		t.Fatalf("expected no results after delete, got %v", got)
	}
}

func TestBM25CrossPartitionIsolation(t *testing.T) {
	idx := New(nil)
	idx.Upsert("m1", "shared secret value", Metadata{UserID: "u1", AgentName: "a1"})
	got := idx.Search("shared", 5, Filter{UserID: "u2", AgentName: "a1"})
	if len(got) != 0 {
		t.Fatalf("expected cross-partition isolation, got %v", got)
	}
}
