package exportimport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/memcore"
)

// newTestGraph mirrors internal/coding/coding_test.go's sqlite-backed
// GraphStore convention: ScanAll/KVStore needs a live Postgres (db.Client
// has no test-only constructor), so this package's tests cover the graph
// half and the schema-version/decode logic, not the memories.jsonl half.
func newTestGraph(t *testing.T) *graph.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	gs, err := graph.New(gdb, zap.NewNop())
	if err != nil {
		t.Fatalf("new graph store: %v", err)
	}
	if err := gs.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return gs
}

func TestExportImportGraphRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestGraph(t)

	if err := src.AddNode(ctx, memcore.GraphNode{ID: "n1", NodeType: memcore.NodeUser}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := src.AddNode(ctx, memcore.GraphNode{ID: "n2", NodeType: memcore.NodeMemory}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := src.AddEdge(ctx, memcore.GraphEdge{Src: "n1", Dst: "n2", RelType: memcore.RelRelatedTo, ValidFrom: time.Now().UTC()}); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	exporter := NewExporter(nil, src, zap.NewNop())
	var buf bytes.Buffer
	nodes, edges, err := exporter.ExportGraph(ctx, &buf)
	if err != nil {
		t.Fatalf("export graph: %v", err)
	}
	if nodes != 2 || edges != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %d/%d", nodes, edges)
	}

	dst := newTestGraph(t)
	importer := NewImporter(nil, dst, zap.NewNop())
	gotNodes, gotEdges, err := importer.ImportGraph(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("import graph: %v", err)
	}
	if gotNodes != 2 || gotEdges != 1 {
		t.Fatalf("expected to import 2 nodes and 1 edge, got %d/%d", gotNodes, gotEdges)
	}

	node, ok, err := dst.GetNode(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("expected n1 to exist after import: ok=%v err=%v", ok, err)
	}
	if node.NodeType != memcore.NodeUser {
		t.Fatalf("expected node type to round-trip, got %v", node.NodeType)
	}

	outgoing, err := dst.OutgoingEdges(ctx, "n1", time.Now().UTC(), nil)
	if err != nil {
		t.Fatalf("outgoing edges: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].Dst != "n2" {
		t.Fatalf("expected one edge n1->n2 after import, got %+v", outgoing)
	}
}

func TestImportGraphSkipsOverlappingEdgeOnReimport(t *testing.T) {
	ctx := context.Background()
	src := newTestGraph(t)
	if err := src.AddNode(ctx, memcore.GraphNode{ID: "n1", NodeType: memcore.NodeUser}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := src.AddNode(ctx, memcore.GraphNode{ID: "n2", NodeType: memcore.NodeMemory}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := src.AddEdge(ctx, memcore.GraphEdge{Src: "n1", Dst: "n2", RelType: memcore.RelRelatedTo, ValidFrom: time.Now().UTC()}); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	exporter := NewExporter(nil, src, zap.NewNop())
	var buf bytes.Buffer
	if _, _, err := exporter.ExportGraph(ctx, &buf); err != nil {
		t.Fatalf("export graph: %v", err)
	}

	importer := NewImporter(nil, src, zap.NewNop())
	// Re-importing into the same store hits AddNode's idempotent upsert for
	// nodes, but AddEdge rejects the overlapping validity interval — that's
	// a warn-and-skip, not a failure, per ImportGraph's doc comment.
	_, edges, err := importer.ImportGraph(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("re-import graph: %v", err)
	}
	if edges != 0 {
		t.Fatalf("expected the re-imported edge to be skipped as overlapping, got %d applied", edges)
	}
}

func TestImportMetadataRejectsNewerSchema(t *testing.T) {
	importer := NewImporter(nil, nil, zap.NewNop())
	newer := bytes.NewReader([]byte(`{"schema_version":999,"exported_at":"2026-01-01T00:00:00Z"}`))
	if _, err := importer.ImportMetadata(newer); err == nil {
		t.Fatalf("expected an error importing a newer schema_version than this build supports")
	}

	current := bytes.NewReader([]byte(`{"schema_version":1,"exported_at":"2026-01-01T00:00:00Z"}`))
	if _, err := importer.ImportMetadata(current); err != nil {
		t.Fatalf("expected the current schema_version to import cleanly: %v", err)
	}
}
