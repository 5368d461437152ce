package coding

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/memcore"
)

func newTestGraph(t *testing.T) *graph.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := graph.New(gdb, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(nil, newTestGraph(t), nil, zap.NewNop())
}

func TestStartRejectsSecondActiveSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Start(ctx, "u1", "p1", "first", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Start(ctx, "u1", "p1", "second", nil); err == nil {
		t.Fatalf("expected I4 exclusivity conflict, got nil")
	}
	if _, err := m.Start(ctx, "u1", "p2", "other project ok", nil); err != nil {
		t.Fatalf("different project should be allowed: %v", err)
	}
}

func TestEndThenResumeRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Start(ctx, "u1", "p1", "work", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.End(ctx, sess.SessionID, true); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := m.Resume(ctx, sess.SessionID); err == nil {
		t.Fatalf("expected resume of an Ended (not Aborted) session to fail")
	}
}

func TestAbortThenResumeWithinWindow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Start(ctx, "u1", "p1", "work", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Abort(ctx, sess.SessionID); err != nil {
		t.Fatalf("abort: %v", err)
	}
	resumed, err := m.Resume(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != memcore.CodingSessionActive {
		t.Fatalf("expected Active after resume, got %s", resumed.Status)
	}
	// A second session for the same user/project should now conflict again.
	if _, err := m.Start(ctx, "u1", "p1", "concurrent", nil); err == nil {
		t.Fatalf("expected exclusivity conflict after resume")
	}
}

func TestResumeRejectsStaleAbortedSession(t *testing.T) {
	m := newTestManager(t)
	m.maxSessionDuration = time.Millisecond
	ctx := context.Background()
	sess, err := m.Start(ctx, "u1", "p1", "work", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Abort(ctx, sess.SessionID); err != nil {
		t.Fatalf("abort: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := m.Resume(ctx, sess.SessionID); err == nil {
		t.Fatalf("expected stale abort to be rejected")
	}
}

func TestTrackFileChangeRecordsGraphNode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Start(ctx, "u1", "p1", "work", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.TrackFileChange(ctx, sess.SessionID, memcore.FileChange{
		FilePath: "main.go", Action: memcore.FileActionEdit,
	}); err != nil {
		t.Fatalf("track file change: %v", err)
	}
	node, ok, err := m.graph.GetNode(ctx, fileNodeID("main.go"))
	if err != nil || !ok {
		t.Fatalf("expected file node to exist: %v %v", ok, err)
	}
	if node.NodeType != memcore.NodeFile {
		t.Fatalf("expected NodeFile, got %s", node.NodeType)
	}
}

func TestEndEmitsInSessionEdgesForTrackedFiles(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Start(ctx, "u1", "p1", "work", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, path := range []string{"a.go", "b.go", "a.go"} { // a.go touched twice
		if _, err := m.TrackFileChange(ctx, sess.SessionID, memcore.FileChange{
			FilePath: path, Action: memcore.FileActionEdit,
		}); err != nil {
			t.Fatalf("track %s: %v", path, err)
		}
	}
	if _, err := m.End(ctx, sess.SessionID, true); err != nil {
		t.Fatalf("end: %v", err)
	}
	edges, err := m.graph.OutgoingEdges(ctx, fileNodeID("a.go"), time.Now().UTC(), []memcore.RelType{memcore.RelInSession})
	if err != nil {
		t.Fatalf("outgoing edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected exactly one in_session edge for a.go despite two touches, got %d", len(edges))
	}
}

func TestRecordErrorAndGetSolutionsForError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Start(ctx, "u1", "p1", "work", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	errID, _, err := m.RecordError(ctx, sess.SessionID, memcore.ErrorRecord{
		ErrorType: "panic", Message: "nil pointer", Solution: "add nil check",
	}, 0)
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	sols, err := m.GetSolutionsForError(ctx, errID)
	if err != nil {
		t.Fatalf("get solutions: %v", err)
	}
	if len(sols) != 1 {
		t.Fatalf("expected one solution, got %d", len(sols))
	}
	if sols[0].Weight != 0.7 {
		t.Fatalf("expected default confidence 0.7, got %f", sols[0].Weight)
	}
}

func TestAnalyzeRefactorImpactRiskThresholds(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()
	// dep <- a (1 dependent: low)
	mustAddNode(t, m, ctx, fileNodeID("dep.go"))
	mustAddNode(t, m, ctx, fileNodeID("a.go"))
	mustAddEdge(t, m, ctx, fileNodeID("a.go"), fileNodeID("dep.go"), now)
	impact, err := m.AnalyzeRefactorImpact(ctx, "dep.go")
	if err != nil {
		t.Fatalf("analyze refactor impact: %v", err)
	}
	if impact.Risk != "low" {
		t.Fatalf("expected low risk with 1 affected file, got %s (%v)", impact.Risk, impact.AffectedFiles)
	}

	// Add three more dependents -> 4 total -> medium.
	for _, name := range []string{"b.go", "c.go", "d.go"} {
		mustAddNode(t, m, ctx, fileNodeID(name))
		mustAddEdge(t, m, ctx, fileNodeID(name), fileNodeID("dep.go"), now)
	}
	impact, err = m.AnalyzeRefactorImpact(ctx, "dep.go")
	if err != nil {
		t.Fatalf("analyze refactor impact: %v", err)
	}
	if impact.Risk != "medium" {
		t.Fatalf("expected medium risk with 4 affected files, got %s (%v)", impact.Risk, impact.AffectedFiles)
	}

	// A 5th dependent pushes it to high.
	mustAddNode(t, m, ctx, fileNodeID("e.go"))
	mustAddEdge(t, m, ctx, fileNodeID("e.go"), fileNodeID("dep.go"), now)
	impact, err = m.AnalyzeRefactorImpact(ctx, "dep.go")
	if err != nil {
		t.Fatalf("analyze refactor impact: %v", err)
	}
	if impact.Risk != "high" {
		t.Fatalf("expected high risk with 5 affected files, got %s (%v)", impact.Risk, impact.AffectedFiles)
	}
}

func mustAddNode(t *testing.T, m *Manager, ctx context.Context, id string) {
	t.Helper()
	if err := m.graph.AddNode(ctx, memcore.GraphNode{ID: id, NodeType: memcore.NodeFile}); err != nil {
		t.Fatalf("add node %s: %v", id, err)
	}
}

func mustAddEdge(t *testing.T, m *Manager, ctx context.Context, src, dst string, at time.Time) {
	t.Helper()
	if err := m.graph.AddEdge(ctx, memcore.GraphEdge{Src: src, Dst: dst, RelType: memcore.RelDependsOn, ValidFrom: at}); err != nil {
		t.Fatalf("add edge %s->%s: %v", src, dst, err)
	}
}

func TestSuggestRefactorOrderTopologicalWithCycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, name := range []string{"x.go", "y.go", "z.go", "w.go"} {
		mustAddNode(t, m, ctx, fileNodeID(name))
	}
	// y depends_on x: x must precede y.
	mustAddEdge(t, m, ctx, fileNodeID("y.go"), fileNodeID("x.go"), now)
	// w and z form a cycle between themselves (not in our requested set's main chain).
	mustAddEdge(t, m, ctx, fileNodeID("w.go"), fileNodeID("z.go"), now)
	mustAddEdge(t, m, ctx, fileNodeID("z.go"), fileNodeID("w.go"), now)

	order, err := m.SuggestRefactorOrder(ctx, []string{"y.go", "x.go", "w.go", "z.go"})
	if err != nil {
		t.Fatalf("suggest refactor order: %v", err)
	}
	xIdx, yIdx := indexOf(order, "x.go"), indexOf(order, "y.go")
	if xIdx < 0 || yIdx < 0 || xIdx > yIdx {
		t.Fatalf("expected x.go before y.go, got order %v", order)
	}
	// w.go, z.go form a cycle and must be the trailing two entries, sorted.
	if order[2] != "w.go" || order[3] != "z.go" {
		t.Fatalf("expected cyclic members w.go,z.go last and lexicographic, got %v", order)
	}
}

func indexOf(ss []string, v string) int {
	for i, s := range ss {
		if s == v {
			return i
		}
	}
	return -1
}

func TestAnalyzeFileDependenciesParsesImports(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.go")
	src := "package sample\n\nimport (\n\t\"context\"\n\t\"fmt\"\n)\n\nfunc F(ctx context.Context) { fmt.Println(ctx) }\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write sample file: %v", err)
	}
	deps, err := m.AnalyzeFileDependencies(ctx, path)
	if err != nil {
		t.Fatalf("analyze file dependencies: %v", err)
	}
	if len(deps.Imports) != 2 {
		t.Fatalf("expected 2 imports, got %v", deps.Imports)
	}
}

func TestGetDecisionImplementationStatusNoMemoryManager(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.GetDecisionImplementationStatus(ctx, "u1", "p1", "does-not-matter"); err == nil {
		t.Fatalf("expected error without a memory manager wired")
	}
}
