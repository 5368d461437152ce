// Package graph implements GraphStore (C8): a temporal multi-relation
// directed graph over memory nodes (spec §4.8). Nodes and edges persist
// through gorm.io/gorm (sentinel-x's casbin+gorm wiring is the grounding
// for using gorm as the persistence layer here; gorm.io/driver/postgres
// in production, github.com/glebarez/sqlite in tests), but every read/write goes
// through the teacher's circuitbreaker.DatabaseWrapper around gorm's
// underlying *sql.DB rather than gorm's query builder, so graph writes get
// the same circuit-breaker protection as internal/store's KVStore. BFS
// traversal is hand-rolled per spec, shaped after sqvect's
// pkg/graph/graph_traversal.go queue-based walk.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shannon-memory/core/internal/circuitbreaker"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/metrics"
)

const component = "GraphStore"

// Store is GraphStore (C8). It owns its own sharded write locks (spec
// §5: "GraphStore: writes serialized per (src, dst, rel_type); read-only
// queries concurrent"), mirroring the per-partition locking convention
// used by session.Manager and internal/lexical's partition map.
type Store struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New wraps an already-opened gorm.DB. The caller is responsible for
// dialect selection (postgres in production, sqlite in tests).
func New(gdb *gorm.DB, logger *zap.Logger) (*Store, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "failed to obtain sql.DB from gorm", err)
	}
	return &Store{
		wrapper: circuitbreaker.NewDatabaseWrapper(sqlDB, logger),
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// EnsureSchema creates the graph_nodes/graph_edges tables if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	id TEXT PRIMARY KEY,
	node_type TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS graph_edges (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	rel_type TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	data TEXT NOT NULL DEFAULT '{}',
	valid_from TIMESTAMPTZ NOT NULL,
	valid_until TIMESTAMPTZ,
	source TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS graph_edges_src_idx ON graph_edges (src, rel_type, dst);
CREATE INDEX IF NOT EXISTS graph_edges_dst_idx ON graph_edges (dst, rel_type, src);
`
	_, err := s.wrapper.ExecContext(ctx, schema)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "ensure schema failed", err)
	}
	return nil
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

func edgeLockKey(src, dst string, relType memcore.RelType) string {
	return src + "\x00" + dst + "\x00" + string(relType)
}

// AddNode upserts a node, idempotent on (id, type) (spec §4.8).
func (s *Store) AddNode(ctx context.Context, node memcore.GraphNode) error {
	if node.ID == "" || node.NodeType == "" {
		return memerr.New(component, memerr.CodeBadRequest, "node id and type are required")
	}
	data, err := json.Marshal(node.Data)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeBadRequest, "invalid node data", err)
	}
	_, err = s.wrapper.ExecContext(ctx,
		`INSERT INTO graph_nodes (id, node_type, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET node_type = EXCLUDED.node_type, data = EXCLUDED.data`,
		node.ID, string(node.NodeType), string(data))
	if err != nil {
		metrics.RecordGraphOperation("add_node", "error")
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "add_node failed", err)
	}
	metrics.RecordGraphOperation("add_node", "ok")
	return nil
}

// AddEdge inserts a new edge, rejecting overlap with any existing edge on
// the same (src, dst, rel_type) whose validity interval overlaps the new
// one (spec §4.8: "multiple edges allowed ... as long as their validity
// intervals do not overlap").
func (s *Store) AddEdge(ctx context.Context, e memcore.GraphEdge) error {
	if e.Src == "" || e.Dst == "" || e.RelType == "" {
		return memerr.New(component, memerr.CodeBadRequest, "src, dst and rel_type are required")
	}
	if e.ValidFrom.IsZero() {
		e.ValidFrom = time.Now().UTC()
	}
	lock := s.lockFor(edgeLockKey(e.Src, e.Dst, e.RelType))
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.edgesBetween(ctx, e.Src, e.Dst, e.RelType)
	if err != nil {
		return err
	}
	for _, o := range existing {
		if intervalsOverlap(o.ValidFrom, o.ValidUntil, e.ValidFrom, e.ValidUntil) {
			metrics.RecordGraphOperation("add_edge", "conflict")
			return memerr.New(component, memerr.CodeConflict, "overlapping validity interval for existing edge")
		}
	}
	if err := s.insertEdge(ctx, s.wrapper, e); err != nil {
		metrics.RecordGraphOperation("add_edge", "error")
		return err
	}
	metrics.RecordGraphOperation("add_edge", "ok")
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertEdge(ctx context.Context, ex execer, e memcore.GraphEdge) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeBadRequest, "invalid edge data", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO graph_edges (src, dst, rel_type, weight, data, valid_from, valid_until, source, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Src, e.Dst, string(e.RelType), e.Weight, string(data), e.ValidFrom, e.ValidUntil, e.Source, e.Confidence)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "insert edge failed", err)
	}
	return nil
}

func intervalsOverlap(aFrom time.Time, aUntil *time.Time, bFrom time.Time, bUntil *time.Time) bool {
	aEnd := farFuture
	if aUntil != nil {
		aEnd = *aUntil
	}
	bEnd := farFuture
	if bUntil != nil {
		bEnd = *bUntil
	}
	return aFrom.Before(bEnd) && bFrom.Before(aEnd)
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// InvalidateEdge sets valid_until = now for every currently valid edge
// between src and dst, across all rel_types (spec §4.8).
func (s *Store) InvalidateEdge(ctx context.Context, src, dst string) error {
	now := time.Now().UTC()
	_, err := s.wrapper.ExecContext(ctx,
		`UPDATE graph_edges SET valid_until = $1
		 WHERE src = $2 AND dst = $3 AND valid_from <= $1 AND (valid_until IS NULL OR valid_until > $1)`,
		now, src, dst)
	if err != nil {
		metrics.RecordGraphOperation("invalidate_edge", "error")
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "invalidate_edge failed", err)
	}
	metrics.RecordGraphOperation("invalidate_edge", "ok")
	return nil
}

// Supersede atomically invalidates the edge (oldSrc, oldDst, relType) and
// adds a new edge (newSrc, newDst, relType) starting now, plus a
// `supersedes` edge from the new node to the old one (spec §4.8).
func (s *Store) Supersede(ctx context.Context, oldSrc, oldDst, newSrc, newDst string, relType memcore.RelType) error {
	tx, err := s.wrapper.BeginTx(ctx, nil)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "supersede: begin tx failed", err)
	}
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE graph_edges SET valid_until = $1
		 WHERE src = $2 AND dst = $3 AND rel_type = $4 AND valid_from <= $1 AND (valid_until IS NULL OR valid_until > $1)`,
		now, oldSrc, oldDst, string(relType)); err != nil {
		_ = tx.Rollback()
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "supersede: invalidate old edge failed", err)
	}

	newEdge := memcore.GraphEdge{Src: newSrc, Dst: newDst, RelType: relType, Weight: 1.0, ValidFrom: now, Confidence: 1.0}
	if err := s.insertEdgeTx(ctx, tx, newEdge); err != nil {
		_ = tx.Rollback()
		return err
	}
	supersedesEdge := memcore.GraphEdge{Src: newDst, Dst: oldDst, RelType: memcore.RelSupersedes, Weight: 1.0, ValidFrom: now, Confidence: 1.0}
	if err := s.insertEdgeTx(ctx, tx, supersedesEdge); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordGraphOperation("supersede", "error")
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "supersede: commit failed", err)
	}
	metrics.RecordGraphOperation("supersede", "ok")
	return nil
}

func (s *Store) insertEdgeTx(ctx context.Context, tx *circuitbreaker.TxWrapper, e memcore.GraphEdge) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeBadRequest, "invalid edge data", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO graph_edges (src, dst, rel_type, weight, data, valid_from, valid_until, source, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Src, e.Dst, string(e.RelType), e.Weight, string(data), e.ValidFrom, e.ValidUntil, e.Source, e.Confidence)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "insert edge failed", err)
	}
	return nil
}

func (s *Store) edgesBetween(ctx context.Context, src, dst string, relType memcore.RelType) ([]memcore.GraphEdge, error) {
	rows, err := s.wrapper.QueryContext(ctx,
		`SELECT src, dst, rel_type, weight, data, valid_from, valid_until, source, confidence
		 FROM graph_edges WHERE src = $1 AND dst = $2 AND rel_type = $3`,
		src, dst, string(relType))
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "edgesBetween query failed", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]memcore.GraphEdge, error) {
	var out []memcore.GraphEdge
	for rows.Next() {
		var e memcore.GraphEdge
		var relType, data string
		var validUntil sql.NullTime
		if err := rows.Scan(&e.Src, &e.Dst, &relType, &e.Weight, &data, &e.ValidFrom, &validUntil, &e.Source, &e.Confidence); err != nil {
			return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "scan edge failed", err)
		}
		e.RelType = memcore.RelType(relType)
		if validUntil.Valid {
			t := validUntil.Time
			e.ValidUntil = &t
		}
		if data != "" {
			_ = json.Unmarshal([]byte(data), &e.Data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// outgoingEdges returns every edge with src = nodeID, valid at `at`,
// filtered by rel_filter if non-empty, ordered (rel_type asc, dst asc)
// per spec §4.8.
func (s *Store) outgoingEdges(ctx context.Context, nodeID string, at time.Time, relFilter []memcore.RelType) ([]memcore.GraphEdge, error) {
	rows, err := s.wrapper.QueryContext(ctx,
		`SELECT src, dst, rel_type, weight, data, valid_from, valid_until, source, confidence
		 FROM graph_edges WHERE src = $1 AND valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)
		 ORDER BY rel_type ASC, dst ASC`,
		nodeID, at)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "outgoingEdges query failed", err)
	}
	defer rows.Close()
	edges, err := scanEdges(rows)
	if err != nil {
		return nil, err
	}
	if len(relFilter) == 0 {
		return edges, nil
	}
	allowed := make(map[memcore.RelType]struct{}, len(relFilter))
	for _, r := range relFilter {
		allowed[r] = struct{}{}
	}
	filtered := edges[:0]
	for _, e := range edges {
		if _, ok := allowed[e.RelType]; ok {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// OutgoingEdges returns every edge valid at atTime whose src is nodeID,
// deterministically ordered (rel_type asc, dst asc), optionally narrowed to
// relFilter. Exported for CodingMemory's dependency/solution-linking
// queries, which need a single node's neighbors without a full BFS.
func (s *Store) OutgoingEdges(ctx context.Context, nodeID string, at time.Time, relFilter []memcore.RelType) ([]memcore.GraphEdge, error) {
	return s.outgoingEdges(ctx, nodeID, at, relFilter)
}

// IncomingEdges returns every edge valid at atTime whose dst is nodeID,
// the symmetric counterpart to OutgoingEdges — needed for
// analyze_file_dependencies's "imported_by" direction, which AddEdge's
// (src, dst, rel_type) sharding never needs to ask for on its own.
func (s *Store) IncomingEdges(ctx context.Context, nodeID string, at time.Time, relFilter []memcore.RelType) ([]memcore.GraphEdge, error) {
	rows, err := s.wrapper.QueryContext(ctx,
		`SELECT src, dst, rel_type, weight, data, valid_from, valid_until, source, confidence
		 FROM graph_edges WHERE dst = $1 AND valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)
		 ORDER BY rel_type ASC, src ASC`,
		nodeID, at)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "incomingEdges query failed", err)
	}
	defer rows.Close()
	edges, err := scanEdges(rows)
	if err != nil {
		return nil, err
	}
	if len(relFilter) == 0 {
		return edges, nil
	}
	allowed := make(map[memcore.RelType]struct{}, len(relFilter))
	for _, r := range relFilter {
		allowed[r] = struct{}{}
	}
	filtered := edges[:0]
	for _, e := range edges {
		if _, ok := allowed[e.RelType]; ok {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// GetNode fetches a single node by id.
func (s *Store) GetNode(ctx context.Context, id string) (memcore.GraphNode, bool, error) {
	row := s.wrapper.QueryRowContext(ctx, `SELECT id, node_type, data FROM graph_nodes WHERE id = $1`, id)
	var n memcore.GraphNode
	var nodeType, data string
	if err := row.Scan(&n.ID, &nodeType, &data); err != nil {
		if err == sql.ErrNoRows {
			return memcore.GraphNode{}, false, nil
		}
		return memcore.GraphNode{}, false, memerr.Wrap(component, memerr.CodeStoreUnavailable, "get node failed", err)
	}
	n.NodeType = memcore.NodeType(nodeType)
	if data != "" {
		_ = json.Unmarshal([]byte(data), &n.Data)
	}
	return n, true, nil
}

// ListNodes returns every node in the graph, ordered by id, for export
// (spec §6.3's graph.jsonl stream).
func (s *Store) ListNodes(ctx context.Context) ([]memcore.GraphNode, error) {
	rows, err := s.wrapper.QueryContext(ctx, `SELECT id, node_type, data FROM graph_nodes ORDER BY id ASC`)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "list nodes failed", err)
	}
	defer rows.Close()
	var out []memcore.GraphNode
	for rows.Next() {
		var n memcore.GraphNode
		var nodeType, data string
		if err := rows.Scan(&n.ID, &nodeType, &data); err != nil {
			return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "scan node failed", err)
		}
		n.NodeType = memcore.NodeType(nodeType)
		if data != "" {
			_ = json.Unmarshal([]byte(data), &n.Data)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListEdges returns every edge in the graph, ordered (src, dst, rel_type),
// for export (spec §6.3's graph.jsonl stream).
func (s *Store) ListEdges(ctx context.Context) ([]memcore.GraphEdge, error) {
	rows, err := s.wrapper.QueryContext(ctx,
		`SELECT src, dst, rel_type, weight, data, valid_from, valid_until, source, confidence
		 FROM graph_edges ORDER BY src ASC, dst ASC, rel_type ASC`)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "list edges failed", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// Subgraph is the BFS result of QueryGraph.
type Subgraph struct {
	Nodes []memcore.GraphNode
	Edges []memcore.GraphEdge
}

// QueryGraph runs a BFS up to hops from seedIDs, pruning edges not valid
// at atTime, deterministic (rel_type asc, dst asc) neighbor expansion, and
// a visited-set for cycle handling (spec §4.8).
func (s *Store) QueryGraph(ctx context.Context, seedIDs []string, hops int, relFilter []memcore.RelType, atTime time.Time) (Subgraph, error) {
	if hops < 0 {
		hops = 0
	}
	if hops > 6 {
		hops = 6 // spec §5 resource limit
	}
	if atTime.IsZero() {
		atTime = time.Now().UTC()
	}

	visited := make(map[string]struct{}, len(seedIDs))
	type queued struct {
		id    string
		depth int
	}
	queue := make([]queued, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		queue = append(queue, queued{id: id, depth: 0})
	}

	var sub Subgraph
	for _, id := range seedIDs {
		if n, ok, err := s.GetNode(ctx, id); err != nil {
			return Subgraph{}, err
		} else if ok {
			sub.Nodes = append(sub.Nodes, n)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= hops {
			continue
		}
		edges, err := s.outgoingEdges(ctx, cur.id, atTime, relFilter)
		if err != nil {
			return Subgraph{}, err
		}
		for _, e := range edges {
			sub.Edges = append(sub.Edges, e)
			if _, ok := visited[e.Dst]; ok {
				continue
			}
			visited[e.Dst] = struct{}{}
			if n, ok, err := s.GetNode(ctx, e.Dst); err != nil {
				return Subgraph{}, err
			} else if ok {
				sub.Nodes = append(sub.Nodes, n)
			}
			queue = append(queue, queued{id: e.Dst, depth: cur.depth + 1})
		}
	}
	metrics.GraphQueryHops.Observe(float64(hops))
	metrics.RecordGraphOperation("query_graph", "ok")
	return sub, nil
}

// ShortestPathLen returns the BFS distance from fromID to the nearest
// member of targets, capped at 6 (spec §4.7's graph_distance term). It
// returns (0, false) if disconnected within the cap.
func (s *Store) ShortestPathLen(ctx context.Context, fromID string, targets map[string]struct{}) (int, bool, error) {
	if _, ok := targets[fromID]; ok {
		return 0, true, nil
	}
	visited := map[string]struct{}{fromID: {}}
	frontier := []string{fromID}
	at := time.Now().UTC()
	for depth := 1; depth <= 6; depth++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.outgoingEdges(ctx, id, at, nil)
			if err != nil {
				return 0, false, err
			}
			for _, e := range edges {
				if _, ok := visited[e.Dst]; ok {
					continue
				}
				visited[e.Dst] = struct{}{}
				if _, ok := targets[e.Dst]; ok {
					return depth, true, nil
				}
				next = append(next, e.Dst)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return 0, false, nil
}

// Operation is one step of a bulk Apply call.
type Operation struct {
	Kind           string // "add_node", "add_edge", "invalidate_edge", "supersede"
	Node           memcore.GraphNode
	Edge           memcore.GraphEdge
	InvalidateSrc  string
	InvalidateDst  string
	SupersedeOld   [2]string // [src, dst]
	SupersedeNew   [2]string // [src, dst]
	SupersedeRel   memcore.RelType
}

// Apply runs every operation inside a single transaction: all-or-nothing
// (spec §4.8: "A bulk apply(operations) primitive provides all-or-nothing
// semantics per call").
func (s *Store) Apply(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.wrapper.BeginTx(ctx, nil)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "apply: begin tx failed", err)
	}
	for _, op := range ops {
		var opErr error
		switch op.Kind {
		case "add_node":
			data, merr := json.Marshal(op.Node.Data)
			if merr != nil {
				opErr = memerr.Wrap(component, memerr.CodeBadRequest, "invalid node data", merr)
				break
			}
			_, opErr = tx.ExecContext(ctx,
				`INSERT INTO graph_nodes (id, node_type, data) VALUES ($1, $2, $3)
				 ON CONFLICT (id) DO UPDATE SET node_type = EXCLUDED.node_type, data = EXCLUDED.data`,
				op.Node.ID, string(op.Node.NodeType), string(data))
		case "add_edge":
			opErr = s.insertEdgeTx(ctx, tx, op.Edge)
		case "invalidate_edge":
			now := time.Now().UTC()
			_, opErr = tx.ExecContext(ctx,
				`UPDATE graph_edges SET valid_until = $1
				 WHERE src = $2 AND dst = $3 AND valid_from <= $1 AND (valid_until IS NULL OR valid_until > $1)`,
				now, op.InvalidateSrc, op.InvalidateDst)
		case "supersede":
			now := time.Now().UTC()
			if _, opErr = tx.ExecContext(ctx,
				`UPDATE graph_edges SET valid_until = $1
				 WHERE src = $2 AND dst = $3 AND rel_type = $4 AND valid_from <= $1 AND (valid_until IS NULL OR valid_until > $1)`,
				now, op.SupersedeOld[0], op.SupersedeOld[1], string(op.SupersedeRel)); opErr == nil {
				newEdge := memcore.GraphEdge{Src: op.SupersedeNew[0], Dst: op.SupersedeNew[1], RelType: op.SupersedeRel, Weight: 1.0, ValidFrom: now, Confidence: 1.0}
				opErr = s.insertEdgeTx(ctx, tx, newEdge)
				if opErr == nil {
					supersedesEdge := memcore.GraphEdge{Src: op.SupersedeNew[1], Dst: op.SupersedeOld[1], RelType: memcore.RelSupersedes, Weight: 1.0, ValidFrom: now, Confidence: 1.0}
					opErr = s.insertEdgeTx(ctx, tx, supersedesEdge)
				}
			}
		default:
			opErr = memerr.New(component, memerr.CodeBadRequest, "unknown bulk operation kind: "+op.Kind)
		}
		if opErr != nil {
			_ = tx.Rollback()
			metrics.RecordGraphOperation("apply", "error")
			return opErr
		}
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordGraphOperation("apply", "error")
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "apply: commit failed", err)
	}
	metrics.RecordGraphOperation("apply", "ok")
	return nil
}
