package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
)

// linkMemoryToUser upserts a NodeUser node for userID and a NodeMemory node
// for the just-published Memory, connecting them with a related_to edge so
// RecallHybrid's graph_distance term (spec §4.7) has something to walk:
// without this edge every memory is unreachable from its own user and the
// term is always 0. Best-effort: a failure here never fails Remember, since
// the graph is a derived index (spec §4.8 "memory nodes reference Memory by
// content hash ... a weak reference").
func (m *Manager) linkMemoryToUser(ctx context.Context, userID, memoryID string) {
	if err := m.graph.AddNode(ctx, memcore.GraphNode{ID: userID, NodeType: memcore.NodeUser}); err != nil {
		m.logger.Warn("failed to add user graph node", zap.Error(err))
		return
	}
	if err := m.graph.AddNode(ctx, memcore.GraphNode{ID: memoryID, NodeType: memcore.NodeMemory}); err != nil {
		m.logger.Warn("failed to add memory graph node", zap.Error(err))
		return
	}
	existing, err := m.graph.OutgoingEdges(ctx, userID, time.Now().UTC(), []memcore.RelType{memcore.RelRelatedTo})
	if err != nil {
		m.logger.Warn("failed to query user graph edges", zap.Error(err))
		return
	}
	for _, e := range existing {
		if e.Dst == memoryID {
			return
		}
	}
	if err := m.graph.AddEdge(ctx, memcore.GraphEdge{
		Src: userID, Dst: memoryID, RelType: memcore.RelRelatedTo, Weight: 1.0, ValidFrom: time.Now().UTC(),
	}); err != nil {
		m.logger.Warn("failed to add user-memory graph edge", zap.Error(err))
	}
}

// RecordInteraction records a user/query/response exchange as an
// interaction graph node linked to the user via works_on, backing the
// `memory_record_interaction` tool and `POST /api/v1/graph/interaction`
// (spec §6.1, §6.2). Returns the generated interaction node id.
func (m *Manager) RecordInteraction(ctx context.Context, userID, query, response string, metadata map[string]any) (string, error) {
	if m.graph == nil {
		return "", memerr.New(component, memerr.CodeStoreUnavailable, "graph store unavailable")
	}
	if userID == "" {
		return "", memerr.New(component, memerr.CodeBadRequest, "user_id is required")
	}
	now := time.Now().UTC()
	interactionID := "interaction:" + userID + ":" + now.Format(time.RFC3339Nano)
	data := map[string]any{"query": query, "response": response, "recorded_at": now}
	for k, v := range metadata {
		data[k] = v
	}
	if err := m.graph.AddNode(ctx, memcore.GraphNode{ID: userID, NodeType: memcore.NodeUser}); err != nil {
		return "", err
	}
	if err := m.graph.AddNode(ctx, memcore.GraphNode{ID: interactionID, NodeType: memcore.NodeInteraction, Data: data}); err != nil {
		return "", err
	}
	if err := m.graph.AddEdge(ctx, memcore.GraphEdge{
		Src: userID, Dst: interactionID, RelType: memcore.RelWorksOn, Weight: 1.0, ValidFrom: now,
	}); err != nil {
		return "", err
	}
	return interactionID, nil
}

// GetRelated returns the subgraph reachable from seedID within hops,
// optionally restricted to relFilter (spec §4.8 query_graph), backing the
// `memory_get_related` tool.
func (m *Manager) GetRelated(ctx context.Context, seedID string, hops int, relFilter []memcore.RelType) (graph.Subgraph, error) {
	if m.graph == nil {
		return graph.Subgraph{}, memerr.New(component, memerr.CodeStoreUnavailable, "graph store unavailable")
	}
	return m.graph.QueryGraph(ctx, []string{seedID}, hops, relFilter, time.Now().UTC())
}

// UserPattern summarizes a user's recorded interaction history, backing the
// `memory_get_user_pattern` tool and `GET /api/v1/graph/pattern/{user_id}`.
type UserPattern struct {
	UserID            string              `json:"user_id"`
	InteractionCount  int                 `json:"interaction_count"`
	LastInteractionAt *time.Time          `json:"last_interaction_at,omitempty"`
	RelatedMemoryIDs  []string            `json:"related_memory_ids"`
	Interactions      []memcore.GraphNode `json:"interactions"`
}

// GetUserPattern aggregates everything linked to userID one hop out: its
// works_on interaction history and its related_to memories (spec §4.8's
// query_graph applied over the two edge kinds Remember/RecordInteraction
// maintain).
func (m *Manager) GetUserPattern(ctx context.Context, userID string) (UserPattern, error) {
	if m.graph == nil {
		return UserPattern{}, memerr.New(component, memerr.CodeStoreUnavailable, "graph store unavailable")
	}
	sub, err := m.graph.QueryGraph(ctx, []string{userID}, 1, []memcore.RelType{memcore.RelWorksOn, memcore.RelRelatedTo}, time.Now().UTC())
	if err != nil {
		return UserPattern{}, err
	}
	pattern := UserPattern{UserID: userID}
	for _, n := range sub.Nodes {
		switch n.NodeType {
		case memcore.NodeInteraction:
			pattern.Interactions = append(pattern.Interactions, n)
			pattern.InteractionCount++
			if s, ok := n.Data["recorded_at"].(string); ok {
				if recordedAt, err := time.Parse(time.RFC3339Nano, s); err == nil {
					if pattern.LastInteractionAt == nil || recordedAt.After(*pattern.LastInteractionAt) {
						pattern.LastInteractionAt = &recordedAt
					}
				}
			}
		case memcore.NodeMemory:
			pattern.RelatedMemoryIDs = append(pattern.RelatedMemoryIDs, n.ID)
		}
	}
	return pattern, nil
}
