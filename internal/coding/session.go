package coding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/metrics"
)

// Start begins a coding session for (user_id, project_id), requiring no
// other session already active for that pair (spec §4.6.1 I4).
func (m *Manager) Start(ctx context.Context, userID, projectID, description string, tags []string) (*memcore.CodingSession, error) {
	if userID == "" || projectID == "" {
		return nil, memerr.New(component, memerr.CodeBadRequest, "user_id and project_id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := projectKey(userID, projectID)
	if _, ok := m.active[key]; ok {
		return nil, memerr.New(component, memerr.CodeConflict, "a coding session is already active for this user/project")
	}
	sess := &activeSession{
		CodingSession: memcore.CodingSession{
			SessionID:   newID(),
			UserID:      userID,
			ProjectID:   projectID,
			Description: description,
			StartedAt:   time.Now().UTC(),
			Status:      memcore.CodingSessionActive,
			Tags:        tags,
		},
		fileNodeIDs: make(map[string]struct{}),
	}
	m.active[key] = sess
	m.sessions[sess.SessionID] = sess

	if m.graph != nil {
		if err := m.graph.AddNode(ctx, memcore.GraphNode{
			ID: sessionNodeID(sess.SessionID), NodeType: memcore.NodeSession,
			Data: map[string]any{"user_id": userID, "project_id": projectID, "description": description},
		}); err != nil {
			m.logger.Warn("failed to add session graph node", zap.Error(err))
		}
	}
	metrics.CodingSessionsActive.Inc()
	out := sess.CodingSession
	return &out, nil
}

// End finalizes an active session: requests a summary from LLMService,
// materializes it as a persistent Memory, and emits the
// session--implements-->decision / file--in_session-->session graph edges
// accumulated over the session's lifetime (spec §4.6.1).
func (m *Manager) End(ctx context.Context, sessionID string, success bool) (*memcore.CodingSession, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.Status != memcore.CodingSessionActive {
		m.mu.Unlock()
		return nil, memerr.New(component, memerr.CodeNotFound, "no active coding session with that id")
	}
	delete(m.active, projectKey(sess.UserID, sess.ProjectID))
	now := time.Now().UTC()
	sess.EndedAt = &now
	sess.Status = memcore.CodingSessionEnded
	decisionIDs := append([]string(nil), sess.decisionIDs...)
	fileIDs := make([]string, 0, len(sess.fileNodeIDs))
	for id := range sess.fileNodeIDs {
		fileIDs = append(fileIDs, id)
	}
	m.mu.Unlock()

	summary := m.summarize(ctx, sess, success)
	sess.Summary = summary

	if m.memory != nil {
		if _, err := m.memory.Remember(ctx, memory.RememberSpec{
			UserID: sess.UserID, AgentName: agentNamespace(sess.ProjectID),
			Key: "session_summary:" + sessionID, Value: summary,
			Scope: memcore.ScopePersistent, Tags: append([]string{"session_summary"}, sess.Tags...),
		}); err != nil {
			m.logger.Warn("failed to persist session summary", zap.Error(err))
		}
	}

	if m.graph != nil {
		for _, did := range decisionIDs {
			if err := m.ensureEdge(ctx, sessionNodeID(sessionID), decisionNodeID(did), memcore.RelImplements, 1.0, 1.0); err != nil {
				m.logger.Warn("failed to add session-implements-decision edge", zap.Error(err))
			}
		}
		for _, fid := range fileIDs {
			if err := m.ensureEdge(ctx, fid, sessionNodeID(sessionID), memcore.RelInSession, 1.0, 1.0); err != nil {
				m.logger.Warn("failed to add file-in_session-session edge", zap.Error(err))
			}
		}
	}
	metrics.CodingSessionsActive.Dec()
	out := sess.CodingSession
	return &out, nil
}

// Resume reactivates an Aborted session if it is younger than
// max_session_duration_hours (spec §4.6.1).
func (m *Manager) Resume(ctx context.Context, sessionID string) (*memcore.CodingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.Status != memcore.CodingSessionAborted {
		return nil, memerr.New(component, memerr.CodeNotFound, "no aborted coding session with that id")
	}
	if sess.EndedAt != nil && time.Since(*sess.EndedAt) > m.maxSessionDuration {
		return nil, memerr.New(component, memerr.CodeConflict, "session is too old to resume")
	}
	key := projectKey(sess.UserID, sess.ProjectID)
	if existing, ok := m.active[key]; ok && existing.SessionID != sessionID {
		return nil, memerr.New(component, memerr.CodeConflict, "another session is already active for this user/project")
	}
	sess.Status = memcore.CodingSessionActive
	sess.EndedAt = nil
	m.active[key] = sess
	metrics.CodingSessionsActive.Inc()
	out := sess.CodingSession
	return &out, nil
}

// Abort explicitly terminates an active session without summarization.
func (m *Manager) Abort(ctx context.Context, sessionID string) (*memcore.CodingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.Status != memcore.CodingSessionActive {
		return nil, memerr.New(component, memerr.CodeNotFound, "no active coding session with that id")
	}
	delete(m.active, projectKey(sess.UserID, sess.ProjectID))
	now := time.Now().UTC()
	sess.EndedAt = &now
	sess.Status = memcore.CodingSessionAborted
	metrics.CodingSessionsActive.Dec()
	out := sess.CodingSession
	return &out, nil
}

func (m *Manager) summarize(ctx context.Context, sess *activeSession, success bool) string {
	outcome := "succeeded"
	if !success {
		outcome = "did not succeed"
	}
	transcript := fmt.Sprintf("Coding session %q (%s) in project %s for user %s: %s.\n%d file change(s), %d decision(s) recorded.",
		sess.SessionID, outcome, sess.ProjectID, sess.UserID, sess.Description, len(sess.fileNodeIDs), len(sess.decisionIDs))
	if m.llm == nil {
		return transcript
	}
	text, err := m.llm.Summarize(ctx, transcript, 256)
	if err != nil {
		m.logger.Warn("LLM summarization failed, falling back to placeholder", zap.Error(err))
		return transcript
	}
	return text
}
