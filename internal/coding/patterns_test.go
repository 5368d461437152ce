package coding

import (
	"context"
	"testing"
)

// GetProjectContext/AnalyzePatterns/SearchErrors all read back persisted
// file_change/error/decision Memories through MemoryManager, which (per
// records.go) always stores them at ScopePersistent — so, like
// TestGetDecisionImplementationStatusNoMemoryManager in coding_test.go, exercising the
// persisted-record paths needs a live KVStore this package's test helpers
// don't construct. These tests cover the in-process (no MemoryManager
// wired) behavior: the active-session/session-count bookkeeping that needs
// no store at all, and the "unavailable" error paths the tools surface
// when MemoryManager isn't configured.

func TestGetProjectContextNoMemoryManager(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.GetProjectContext(ctx, "u1", "p1"); err == nil {
		t.Fatalf("expected error without a memory manager wired")
	}
}

func TestSearchErrorsNoMemoryManager(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.SearchErrors(ctx, "u1", "p1", "panic", 10); err == nil {
		t.Fatalf("expected error without a memory manager wired")
	}
}

func TestAnalyzePatternsSessionCountWithoutMemoryManager(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Start(ctx, "u1", "p1", "work", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Start(ctx, "u1", "p2", "other project", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	summary, err := m.AnalyzePatterns(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("analyze patterns: %v", err)
	}
	if summary.SessionCount != 1 {
		t.Fatalf("expected session count scoped to (u1,p1), got %d", summary.SessionCount)
	}
	if summary.CommonErrorTypes == nil || summary.FrequentFiles == nil {
		t.Fatalf("expected non-nil maps even with no MemoryManager wired")
	}
}

func TestHasTag(t *testing.T) {
	if !hasTag([]string{"a", "error", "b"}, "error") {
		t.Fatalf("expected tag to be found")
	}
	if hasTag([]string{"a", "b"}, "error") {
		t.Fatalf("expected tag to be absent")
	}
}
