// Package exportimport implements spec §6.3's export/import surface: three
// newline-delimited JSON streams (memories.jsonl, graph.jsonl, metadata.json)
// satisfying P8 ("import(export(S)) yields a state S' such that list(S) =
// list(S') modulo exported_at fields"). Grounded on the teacher's
// json.NewEncoder(w).Encode idiom used throughout internal/httpapi
// (timeline.go, health/http.go) rather than a bespoke binary format —
// JSONL keeps each record independently parseable, matching spec's own
// wording for the format.
package exportimport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/store"
	"github.com/shannon-memory/core/internal/workerpool"
)

const component = "ExportImport"

// SchemaVersion is written into metadata.json and checked on import; bump
// it whenever memories.jsonl/graph.jsonl's record shapes change in a way
// that breaks backward compatibility.
const SchemaVersion = 1

// Metadata is metadata.json's content (spec §6.3).
type Metadata struct {
	SchemaVersion int       `json:"schema_version"`
	ExportedAt    time.Time `json:"exported_at"`
	MemoryCount   int       `json:"memory_count"`
	NodeCount     int       `json:"node_count"`
	EdgeCount     int       `json:"edge_count"`
}

// graphRecordKind tags each line of graph.jsonl as a node or an edge, since
// both share one stream (spec §6.3 names exactly one graph.jsonl file).
type graphRecordKind string

const (
	graphRecordNode graphRecordKind = "node"
	graphRecordEdge graphRecordKind = "edge"
)

type graphRecord struct {
	Kind graphRecordKind    `json:"kind"`
	Node *memcore.GraphNode `json:"node,omitempty"`
	Edge *memcore.GraphEdge `json:"edge,omitempty"`
}

// Exporter streams a full database snapshot out as the three spec §6.3
// formats. KV is required; Graph may be nil (a deployment that never
// enabled GraphStore exports an empty graph.jsonl).
type Exporter struct {
	KV     *store.KVStore
	Graph  *graph.Store
	Logger *zap.Logger
}

// NewExporter constructs an Exporter. logger may be nil.
func NewExporter(kv *store.KVStore, graphStore *graph.Store, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{KV: kv, Graph: graphStore, Logger: logger}
}

// ExportMemories writes every persisted memory, one JSON object per line,
// ordered by (user_id, agent_name, key) for deterministic diffing.
func (e *Exporter) ExportMemories(ctx context.Context, w io.Writer) (int, error) {
	memories, err := e.KV.ScanAll(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for _, m := range memories {
		if err := enc.Encode(m); err != nil {
			return 0, memerr.Wrap(component, memerr.CodeStoreUnavailable, "encode memory record failed", err)
		}
	}
	return len(memories), nil
}

// ExportGraph writes every node then every edge, one graphRecord per line.
// Nodes first so a streaming importer can always resolve an edge's
// endpoints against nodes already seen.
func (e *Exporter) ExportGraph(ctx context.Context, w io.Writer) (nodes int, edges int, err error) {
	if e.Graph == nil {
		return 0, 0, nil
	}
	ns, err := e.Graph.ListNodes(ctx)
	if err != nil {
		return 0, 0, err
	}
	es, err := e.Graph.ListEdges(ctx)
	if err != nil {
		return 0, 0, err
	}
	enc := json.NewEncoder(w)
	for i := range ns {
		if err := enc.Encode(graphRecord{Kind: graphRecordNode, Node: &ns[i]}); err != nil {
			return 0, 0, memerr.Wrap(component, memerr.CodeStoreUnavailable, "encode node record failed", err)
		}
	}
	for i := range es {
		if err := enc.Encode(graphRecord{Kind: graphRecordEdge, Edge: &es[i]}); err != nil {
			return 0, 0, memerr.Wrap(component, memerr.CodeStoreUnavailable, "encode edge record failed", err)
		}
	}
	return len(ns), len(es), nil
}

// ExportAll writes all three streams and returns the Metadata describing
// them — the caller decides where each stream lands (files, an archive,
// S3 objects); Exporter only knows how to produce the bytes.
func (e *Exporter) ExportAll(ctx context.Context, memoriesW, graphW, metadataW io.Writer) (Metadata, error) {
	memCount, err := e.ExportMemories(ctx, memoriesW)
	if err != nil {
		return Metadata{}, err
	}
	nodeCount, edgeCount, err := e.ExportGraph(ctx, graphW)
	if err != nil {
		return Metadata{}, err
	}
	meta := Metadata{
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now().UTC(),
		MemoryCount:   memCount,
		NodeCount:     nodeCount,
		EdgeCount:     edgeCount,
	}
	if err := json.NewEncoder(metadataW).Encode(meta); err != nil {
		return Metadata{}, memerr.Wrap(component, memerr.CodeStoreUnavailable, "encode metadata failed", err)
	}
	return meta, nil
}

// Importer replays exported streams back through MemoryManager/GraphStore.
// Memory replay goes through MemoryManager.Restore (not KVStore.Put
// directly) so VectorIndex/LexicalIndex get re-populated too; graph replay
// goes through GraphStore.AddNode/AddEdge, which are already idempotent
// upserts (AddNode) or validity-overlap-checked inserts (AddEdge).
type Importer struct {
	Memory *memory.Manager
	Graph  *graph.Store
	Logger *zap.Logger
}

// NewImporter constructs an Importer. Graph may be nil if the export being
// replayed has an empty graph.jsonl and no GraphStore is configured.
func NewImporter(mm *memory.Manager, graphStore *graph.Store, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{Memory: mm, Graph: graphStore, Logger: logger}
}

// ImportMetadata reads and validates metadata.json's schema_version before
// the caller proceeds to replay the other two streams.
func (im *Importer) ImportMetadata(r io.Reader) (Metadata, error) {
	var meta Metadata
	if err := json.NewDecoder(r).Decode(&meta); err != nil {
		return Metadata{}, memerr.Wrap(component, memerr.CodeBadRequest, "decode metadata failed", err)
	}
	if meta.SchemaVersion > SchemaVersion {
		return meta, memerr.New(component, memerr.CodeBadRequest,
			fmt.Sprintf("export schema_version %d is newer than this build supports (%d)", meta.SchemaVersion, SchemaVersion))
	}
	return meta, nil
}

// ImportMemories replays memories.jsonl through MemoryManager.Restore.
// importFanOutWorkers bounds how many Restore calls (each potentially a
// re-embedding round trip to Embedder) run concurrently during an import.
const importFanOutWorkers = 16

func (im *Importer) ImportMemories(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var records []memcore.Memory
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m memcore.Memory
		if err := json.Unmarshal(line, &m); err != nil {
			return len(records), memerr.Wrap(component, memerr.CodeBadRequest, "decode memory record failed", err)
		}
		records = append(records, m)
	}
	if err := scanner.Err(); err != nil {
		return len(records), memerr.Wrap(component, memerr.CodeBadRequest, "scan memories.jsonl failed", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	pool, err := workerpool.New("import-restore", importFanOutWorkers, im.Logger)
	if err != nil {
		return 0, memerr.Wrap(component, memerr.CodeStoreUnavailable, "worker pool init failed", err)
	}
	defer pool.Release()

	var ok atomic.Int64
	fns := make([]func() error, 0, len(records))
	for _, rec := range records {
		rec := rec
		fns = append(fns, func() error {
			if err := im.Memory.Restore(ctx, rec); err != nil {
				return err
			}
			ok.Add(1)
			return nil
		})
	}
	// Every fn is awaited regardless of earlier failures (join, not
	// cancel-on-first-error), so a single bad record doesn't discard the
	// rest of the batch's progress.
	err = pool.Go(fns)
	return int(ok.Load()), err
}

// ImportGraph replays graph.jsonl through GraphStore.AddNode/AddEdge. A nil
// Graph on the Importer makes this a no-op, mirroring Exporter's behavior
// for a deployment that never had GraphStore configured.
func (im *Importer) ImportGraph(ctx context.Context, r io.Reader) (nodes int, edges int, err error) {
	if im.Graph == nil {
		return 0, 0, nil
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec graphRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nodes, edges, memerr.Wrap(component, memerr.CodeBadRequest, "decode graph record failed", err)
		}
		switch rec.Kind {
		case graphRecordNode:
			if rec.Node == nil {
				continue
			}
			if err := im.Graph.AddNode(ctx, *rec.Node); err != nil {
				return nodes, edges, err
			}
			nodes++
		case graphRecordEdge:
			if rec.Edge == nil {
				continue
			}
			if err := im.Graph.AddEdge(ctx, *rec.Edge); err != nil {
				// A re-import of the same export hits this edge's own
				// overlapping validity interval; that's expected on a
				// second import of the same snapshot, not a corrupt
				// stream, so it isn't fatal to the rest of the replay.
				im.Logger.Warn("skip edge on import", zap.Error(err))
				continue
			}
			edges++
		default:
			return nodes, edges, memerr.New(component, memerr.CodeBadRequest, "unknown graph record kind: "+string(rec.Kind))
		}
	}
	if err := scanner.Err(); err != nil {
		return nodes, edges, memerr.Wrap(component, memerr.CodeBadRequest, "scan graph.jsonl failed", err)
	}
	return nodes, edges, nil
}
