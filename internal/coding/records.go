package coding

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/metrics"
)

func (m *Manager) requireActive(sessionID string) (*activeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.Status != memcore.CodingSessionActive {
		return nil, memerr.New(component, memerr.CodeNotFound, "no active coding session with that id")
	}
	return sess, nil
}

// TrackFileChange records a FileChange against an active session
// (spec §4.6.2), maintaining the file's graph node and, when the change
// declares implements_decision_id, an immediate file--implements-->decision
// edge (the session--implements-->decision / file--in_session-->session
// edges spec §4.6.1 assigns to End are accumulated here and emitted then).
func (m *Manager) TrackFileChange(ctx context.Context, sessionID string, fc memcore.FileChange) (*memcore.Memory, error) {
	sess, err := m.requireActive(sessionID)
	if err != nil {
		return nil, err
	}
	fc.SessionID = sessionID
	fc.RecordedAt = time.Now().UTC()

	fnID := fileNodeID(fc.FilePath)
	m.mu.Lock()
	sess.fileNodeIDs[fnID] = struct{}{}
	m.mu.Unlock()

	if m.graph != nil {
		if err := m.graph.AddNode(ctx, memcore.GraphNode{ID: fnID, NodeType: memcore.NodeFile, Data: map[string]any{"path": fc.FilePath}}); err != nil {
			m.logger.Warn("failed to add file graph node", zap.Error(err))
		}
		if fc.ImplementsDecisionID != "" {
			if err := m.ensureEdge(ctx, fnID, decisionNodeID(fc.ImplementsDecisionID), memcore.RelImplements, 1.0, 1.0); err != nil {
				m.logger.Warn("failed to add file-implements-decision edge", zap.Error(err))
			}
		}
	}

	var mem *memcore.Memory
	if m.memory != nil {
		mem, err = m.memory.Remember(ctx, memory.RememberSpec{
			UserID: sess.UserID, AgentName: agentNamespace(sess.ProjectID),
			Key: "file_change:" + newID(), Value: fc, Scope: memcore.ScopePersistent,
			Tags: append([]string{"file_change", fc.FilePath}, sess.Tags...),
		})
		if err != nil {
			return nil, err
		}
	}
	metrics.CodingSessionEvents.WithLabelValues("file_change").Inc()
	return mem, nil
}

// RecordError records an ErrorRecord (spec §4.6.2), creating error and
// (if solution != "") solution graph nodes plus an error--solved_by-->
// solution edge weighted by confidence (default 0.7, spec §4.6.4).
func (m *Manager) RecordError(ctx context.Context, sessionID string, errRec memcore.ErrorRecord, confidence float64) (string, *memcore.Memory, error) {
	sess, err := m.requireActive(sessionID)
	if err != nil {
		return "", nil, err
	}
	if confidence <= 0 {
		confidence = 0.7
	}
	errRec.SessionID = sessionID
	errRec.RecordedAt = time.Now().UTC()
	errID := newID()

	if m.graph != nil {
		if err := m.graph.AddNode(ctx, memcore.GraphNode{
			ID: errorNodeID(errID), NodeType: memcore.NodeError,
			Data: map[string]any{"error_type": errRec.ErrorType, "message": errRec.Message, "file_path": errRec.FilePath},
		}); err != nil {
			m.logger.Warn("failed to add error graph node", zap.Error(err))
		}
		if errRec.Solution != "" {
			solID := newID()
			if err := m.graph.AddNode(ctx, memcore.GraphNode{
				ID: solutionNodeID(solID), NodeType: memcore.NodeSolution,
				Data: map[string]any{"text": errRec.Solution},
			}); err != nil {
				m.logger.Warn("failed to add solution graph node", zap.Error(err))
			}
			if err := m.graph.AddEdge(ctx, memcore.GraphEdge{
				Src: errorNodeID(errID), Dst: solutionNodeID(solID), RelType: memcore.RelSolvedBy,
				Weight: confidence, Confidence: confidence, ValidFrom: time.Now().UTC(),
			}); err != nil {
				m.logger.Warn("failed to add solved_by edge", zap.Error(err))
			}
		}
	}

	var mem *memcore.Memory
	if m.memory != nil {
		mem, err = m.memory.Remember(ctx, memory.RememberSpec{
			UserID: sess.UserID, AgentName: agentNamespace(sess.ProjectID),
			Key: errorNodeID(errID), Value: errRec, Scope: memcore.ScopePersistent,
			Tags: append([]string{"error", errRec.ErrorType}, errRec.Tags...),
		})
		if err != nil {
			return "", nil, err
		}
	}
	metrics.CodingSessionEvents.WithLabelValues("error").Inc()
	return errID, mem, nil
}

// RecordDecision records a DecisionRecord (spec §4.6.2), returning its
// generated decision id for later use by TrackFileChange's
// implements_decision_id and GetDecisionImplementationStatus.
func (m *Manager) RecordDecision(ctx context.Context, sessionID string, dec memcore.DecisionRecord) (string, *memcore.Memory, error) {
	sess, err := m.requireActive(sessionID)
	if err != nil {
		return "", nil, err
	}
	dec.SessionID = sessionID
	dec.RecordedAt = time.Now().UTC()
	decID := newID()

	m.mu.Lock()
	sess.decisionIDs = append(sess.decisionIDs, decID)
	m.mu.Unlock()

	if m.graph != nil {
		if err := m.graph.AddNode(ctx, memcore.GraphNode{
			ID: decisionNodeID(decID), NodeType: memcore.NodeDecision,
			Data: map[string]any{"decision": dec.Decision, "impact": dec.Impact},
		}); err != nil {
			m.logger.Warn("failed to add decision graph node", zap.Error(err))
		}
	}

	var mem *memcore.Memory
	if m.memory != nil {
		mem, err = m.memory.Remember(ctx, memory.RememberSpec{
			UserID: sess.UserID, AgentName: agentNamespace(sess.ProjectID),
			Key: decisionNodeID(decID), Value: dec, Scope: memcore.ScopePersistent,
			Tags: append([]string{"decision"}, dec.Tags...),
		})
		if err != nil {
			return "", nil, err
		}
	}
	metrics.CodingSessionEvents.WithLabelValues("decision").Inc()
	return decID, mem, nil
}

// SolutionRef is one result of GetSolutionsForError.
type SolutionRef struct {
	SolutionID string
	Weight     float64
	ValidFrom  time.Time
}

// GetSolutionsForError returns every solution node adjacent to errorID via
// a solved_by edge, sorted by weight desc then recency desc (spec §4.6.4).
func (m *Manager) GetSolutionsForError(ctx context.Context, errorID string) ([]SolutionRef, error) {
	if m.graph == nil {
		return nil, memerr.New(component, memerr.CodeStoreUnavailable, "graph store unavailable")
	}
	edges, err := m.graph.OutgoingEdges(ctx, errorNodeID(errorID), time.Now().UTC(), []memcore.RelType{memcore.RelSolvedBy})
	if err != nil {
		return nil, err
	}
	out := make([]SolutionRef, 0, len(edges))
	for _, e := range edges {
		id := e.Dst
		if len(id) > len("solution:") && id[:len("solution:")] == "solution:" {
			id = id[len("solution:"):]
		}
		out = append(out, SolutionRef{SolutionID: id, Weight: e.Weight, ValidFrom: e.ValidFrom})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ValidFrom.After(out[j].ValidFrom)
	})
	return out, nil
}

// DecisionStatus is GetDecisionImplementationStatus's result.
type DecisionStatus struct {
	Completion   float64
	PendingFiles []string
}

// GetDecisionImplementationStatus computes the fraction of a decision's
// related_files that have a recorded implements edge to it (spec §4.6.5).
func (m *Manager) GetDecisionImplementationStatus(ctx context.Context, userID, projectID, decisionID string) (DecisionStatus, error) {
	if m.memory == nil {
		return DecisionStatus{}, memerr.New(component, memerr.CodeStoreUnavailable, "memory manager unavailable")
	}
	mem, err := m.memory.RecallByKey(ctx, userID, agentNamespace(projectID), decisionNodeID(decisionID))
	if err != nil {
		return DecisionStatus{}, err
	}
	if mem == nil {
		return DecisionStatus{}, memerr.New(component, memerr.CodeNotFound, "decision not found")
	}
	var dec memcore.DecisionRecord
	if err := decodeValue(mem.Value, &dec); err != nil {
		return DecisionStatus{}, err
	}
	if len(dec.RelatedFiles) == 0 {
		return DecisionStatus{Completion: 0}, nil
	}
	if m.graph == nil {
		return DecisionStatus{Completion: 0, PendingFiles: dec.RelatedFiles}, nil
	}
	implemented, err := m.graph.IncomingEdges(ctx, decisionNodeID(decisionID), time.Now().UTC(), []memcore.RelType{memcore.RelImplements})
	if err != nil {
		return DecisionStatus{}, err
	}
	done := make(map[string]struct{}, len(implemented))
	for _, e := range implemented {
		done[e.Src] = struct{}{}
	}
	var pending []string
	for _, f := range dec.RelatedFiles {
		if _, ok := done[fileNodeID(f)]; !ok {
			pending = append(pending, f)
		}
	}
	completion := float64(len(dec.RelatedFiles)-len(pending)) / float64(len(dec.RelatedFiles))
	return DecisionStatus{Completion: completion, PendingFiles: pending}, nil
}
