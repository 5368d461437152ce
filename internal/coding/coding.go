// Package coding implements CodingMemory (C10): a higher-level view over
// MemoryManager and GraphStore scoped by (user_id, project_id), tracking
// development sessions, structured file/error/decision records, AST
// dependency analysis, and error-to-solution linking (spec §4.6).
//
// Grounded on internal/session.Manager's in-process session-map idiom
// (exclusivity check before create, local map guarded by one mutex) but
// trading session.Manager's Redis TTL cache for MemoryManager/GraphStore
// persistence, since coding sessions need durable cross-process recall
// rather than a volatile request cache.
package coding

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/llm"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/memory"
)

const component = "CodingMemory"

// defaultMaxSessionDurationHours is spec §4.6.1's "max_session_duration_hours
// (configurable; default 24)".
const defaultMaxSessionDurationHours = 24

// activeSession tracks one in-flight CodingSession plus the decision/file
// ids it has accumulated, so End can emit spec §4.6.1's
// "session --implements→ decision" / "file_change --in_session→ session"
// edges without re-scanning every Memory the session ever wrote.
type activeSession struct {
	memcore.CodingSession
	decisionIDs   []string
	fileNodeIDs   map[string]struct{} // "file:"+path, deduped
}

// Manager is CodingMemory (C10).
type Manager struct {
	memory *memory.Manager
	graph  *graph.Store
	llm    *llm.Service
	logger *zap.Logger

	maxSessionDuration time.Duration

	mu       sync.Mutex
	active   map[string]*activeSession // key: userID+"\x00"+projectID, I4 exclusivity
	sessions map[string]*activeSession // key: session_id, includes ended/aborted
}

// New constructs a Manager. llm may be nil; End then falls back to a
// generated placeholder summary (spec §9 graceful degradation).
func New(mm *memory.Manager, gs *graph.Store, llmSvc *llm.Service, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		memory:             mm,
		graph:              gs,
		llm:                llmSvc,
		logger:             logger,
		maxSessionDuration: defaultMaxSessionDurationHours * time.Hour,
		active:             make(map[string]*activeSession),
		sessions:           make(map[string]*activeSession),
	}
}

func projectKey(userID, projectID string) string {
	return userID + "\x00" + projectID
}

// agentNamespace maps a (user_id, project_id)-scoped coding record onto
// MemoryManager's (user_id, agent_name) addressing: project_id becomes a
// reserved agent_name prefix, so coding memories never collide with a real
// agent's persistent keys.
func agentNamespace(projectID string) string {
	return "coding:" + projectID
}

func sessionNodeID(id string) string  { return "session:" + id }
func fileNodeID(path string) string   { return "file:" + path }
func decisionNodeID(id string) string { return "decision:" + id }
func errorNodeID(id string) string    { return "error:" + id }
func solutionNodeID(id string) string { return "solution:" + id }

// ensureEdge adds rel from src to dst unless an equivalent still-valid edge
// already exists, since graph.Store.AddEdge rejects a second edge over an
// identical open validity interval as a conflict (spec §4.8: "add_edge is
// not idempotent when interval differs") — callers here want idempotence
// when the interval is the same ("now, open-ended").
func (m *Manager) ensureEdge(ctx context.Context, src, dst string, rel memcore.RelType, weight, confidence float64) error {
	existing, err := m.graph.OutgoingEdges(ctx, src, time.Now().UTC(), []memcore.RelType{rel})
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Dst == dst {
			return nil
		}
	}
	return m.graph.AddEdge(ctx, memcore.GraphEdge{
		Src: src, Dst: dst, RelType: rel, Weight: weight,
		ValidFrom: time.Now().UTC(), Confidence: confidence,
	})
}

// decodeValue re-marshals a Memory.Value (a generic map[string]interface{}
// once it has round-tripped through KVStore's JSONB column) into a
// concrete struct, since encoding/json always decodes `any` this way.
func decodeValue(v any, out any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeBadRequest, "value not re-encodable", err)
	}
	return json.Unmarshal(blob, out)
}

func newID() string { return uuid.New().String() }
