package graph

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := New(gdb, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestAddNodeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := memcore.GraphNode{ID: "u1", NodeType: memcore.NodeUser, Data: map[string]any{"name": "alice"}}
	if err := s.AddNode(ctx, n); err != nil {
		t.Fatalf("add_node: %v", err)
	}
	n.Data = map[string]any{"name": "alice2"}
	if err := s.AddNode(ctx, n); err != nil {
		t.Fatalf("add_node (update): %v", err)
	}
	got, ok, err := s.GetNode(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("get_node: %v %v", got, err)
	}
	if got.Data["name"] != "alice2" {
		t.Fatalf("expected updated data, got %v", got.Data)
	}
}

func TestAddEdgeRejectsOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := memcore.GraphEdge{Src: "a", Dst: "b", RelType: memcore.RelRelatedTo, ValidFrom: base}
	if err := s.AddEdge(ctx, e1); err != nil {
		t.Fatalf("add_edge: %v", err)
	}
	e2 := memcore.GraphEdge{Src: "a", Dst: "b", RelType: memcore.RelRelatedTo, ValidFrom: base.Add(time.Hour)}
	err := s.AddEdge(ctx, e2)
	if !memerr.Is(err, memerr.CodeConflict) {
		t.Fatalf("expected Conflict for overlapping interval, got %v", err)
	}

	until := base.Add(30 * time.Minute)
	e1b := memcore.GraphEdge{Src: "a", Dst: "b", RelType: memcore.RelRelatedTo, ValidFrom: base, ValidUntil: &until}
	s2 := newTestStore(t)
	if err := s2.AddEdge(ctx, e1b); err != nil {
		t.Fatalf("add_edge bounded: %v", err)
	}
	e2b := memcore.GraphEdge{Src: "a", Dst: "b", RelType: memcore.RelRelatedTo, ValidFrom: until}
	if err := s2.AddEdge(ctx, e2b); err != nil {
		t.Fatalf("expected non-overlapping edge to be accepted, got %v", err)
	}
}

func TestInvalidateEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := memcore.GraphEdge{Src: "a", Dst: "b", RelType: memcore.RelRelatedTo, ValidFrom: time.Now().UTC().Add(-time.Hour)}
	if err := s.AddEdge(ctx, e); err != nil {
		t.Fatalf("add_edge: %v", err)
	}
	if err := s.InvalidateEdge(ctx, "a", "b"); err != nil {
		t.Fatalf("invalidate_edge: %v", err)
	}
	edges, err := s.edgesBetween(ctx, "a", "b", memcore.RelRelatedTo)
	if err != nil {
		t.Fatalf("edgesBetween: %v", err)
	}
	if len(edges) != 1 || edges[0].ValidUntil == nil {
		t.Fatalf("expected invalidated edge with valid_until set, got %+v", edges)
	}
	if !edges[0].ValidUntil.Before(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("expected valid_until close to now, got %v", edges[0].ValidUntil)
	}
}

func TestQueryGraphBFSDeterministicOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"seed", "z", "a", "m"} {
		if err := s.AddNode(ctx, memcore.GraphNode{ID: id, NodeType: memcore.NodeTopic}); err != nil {
			t.Fatalf("add_node %s: %v", id, err)
		}
	}
	now := time.Now().UTC().Add(-time.Minute)
	for _, dst := range []string{"z", "a", "m"} {
		if err := s.AddEdge(ctx, memcore.GraphEdge{Src: "seed", Dst: dst, RelType: memcore.RelRelatedTo, ValidFrom: now}); err != nil {
			t.Fatalf("add_edge seed->%s: %v", dst, err)
		}
	}
	sub, err := s.QueryGraph(ctx, []string{"seed"}, 1, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("query_graph: %v", err)
	}
	if len(sub.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(sub.Edges))
	}
	wantOrder := []string{"a", "m", "z"}
	for i, e := range sub.Edges {
		if e.Dst != wantOrder[i] {
			t.Fatalf("expected deterministic dst order %v, got edge[%d].Dst=%s", wantOrder, i, e.Dst)
		}
	}
}

func TestQueryGraphPrunesByTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.AddNode(ctx, memcore.GraphNode{ID: "seed", NodeType: memcore.NodeTopic})
	_ = s.AddNode(ctx, memcore.GraphNode{ID: "future", NodeType: memcore.NodeTopic})
	future := time.Now().UTC().Add(24 * time.Hour)
	if err := s.AddEdge(ctx, memcore.GraphEdge{Src: "seed", Dst: "future", RelType: memcore.RelRelatedTo, ValidFrom: future}); err != nil {
		t.Fatalf("add_edge: %v", err)
	}
	sub, err := s.QueryGraph(ctx, []string{"seed"}, 1, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("query_graph: %v", err)
	}
	if len(sub.Edges) != 0 {
		t.Fatalf("expected edge not-yet-valid to be pruned, got %+v", sub.Edges)
	}
}

func TestSupersede(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	if err := s.AddEdge(ctx, memcore.GraphEdge{Src: "decisionA", Dst: "fileX", RelType: memcore.RelImplements, ValidFrom: past}); err != nil {
		t.Fatalf("add_edge: %v", err)
	}
	if err := s.Supersede(ctx, "decisionA", "fileX", "decisionB", "fileX", memcore.RelImplements); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	oldEdges, err := s.edgesBetween(ctx, "decisionA", "fileX", memcore.RelImplements)
	if err != nil || len(oldEdges) != 1 || oldEdges[0].ValidUntil == nil {
		t.Fatalf("expected old edge invalidated, got %+v err=%v", oldEdges, err)
	}
	newEdges, err := s.edgesBetween(ctx, "decisionB", "fileX", memcore.RelImplements)
	if err != nil || len(newEdges) != 1 || newEdges[0].ValidUntil != nil {
		t.Fatalf("expected new active edge, got %+v err=%v", newEdges, err)
	}
	supersedesEdges, err := s.edgesBetween(ctx, "fileX", "fileX", memcore.RelSupersedes)
	if err != nil || len(supersedesEdges) != 1 {
		t.Fatalf("expected supersedes edge newDst->oldDst, got %+v err=%v", supersedesEdges, err)
	}
}

func TestApplyAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ops := []Operation{
		{Kind: "add_node", Node: memcore.GraphNode{ID: "n1", NodeType: memcore.NodeMemory}},
		{Kind: "unknown_kind"},
	}
	if err := s.Apply(ctx, ops); err == nil {
		t.Fatalf("expected apply to fail on unknown op kind")
	}
	if _, ok, _ := s.GetNode(ctx, "n1"); ok {
		t.Fatalf("expected all-or-nothing rollback, but n1 was persisted")
	}
}

func TestShortestPathLen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Add(-time.Minute)
	_ = s.AddEdge(ctx, memcore.GraphEdge{Src: "u1", Dst: "topicA", RelType: memcore.RelRelatedTo, ValidFrom: now})
	_ = s.AddEdge(ctx, memcore.GraphEdge{Src: "topicA", Dst: "m1", RelType: memcore.RelRelatedTo, ValidFrom: now})
	dist, found, err := s.ShortestPathLen(ctx, "u1", map[string]struct{}{"m1": {}})
	if err != nil || !found || dist != 2 {
		t.Fatalf("expected distance 2, got dist=%d found=%v err=%v", dist, found, err)
	}
}
