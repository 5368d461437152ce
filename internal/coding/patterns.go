package coding

import (
	"context"

	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/memory"
)

// ProjectContext aggregates everything GetProjectContext needs to answer
// "what's going on in this project right now" in one call: the in-flight
// session (if any) plus the most recent structured records of each kind.
type ProjectContext struct {
	ActiveSession   *memcore.CodingSession
	RecentFiles     []memcore.FileChange
	RecentErrors    []memcore.ErrorRecord
	RecentDecisions []memcore.DecisionRecord
}

const recentRecordLimit = 20

// GetProjectContext backs the `coding_get_project_context` tool: the active
// session for (user_id, project_id) if one exists, plus the most recently
// recorded file changes, errors, and decisions.
func (m *Manager) GetProjectContext(ctx context.Context, userID, projectID string) (ProjectContext, error) {
	if m.memory == nil {
		return ProjectContext{}, memerr.New(component, memerr.CodeStoreUnavailable, "memory manager unavailable")
	}
	var out ProjectContext
	m.mu.Lock()
	if sess, ok := m.active[projectKey(userID, projectID)]; ok {
		s := sess.CodingSession
		out.ActiveSession = &s
	}
	m.mu.Unlock()

	agent := agentNamespace(projectID)

	if fcMems, err := m.memory.List(ctx, userID, memory.ListFilter{AgentName: agent, Tags: []string{"file_change"}}, recentRecordLimit); err == nil {
		for _, mem := range fcMems {
			var fc memcore.FileChange
			if decodeValue(mem.Value, &fc) == nil {
				out.RecentFiles = append(out.RecentFiles, fc)
			}
		}
	}
	if errMems, err := m.memory.List(ctx, userID, memory.ListFilter{AgentName: agent, Tags: []string{"error"}}, recentRecordLimit); err == nil {
		for _, mem := range errMems {
			var er memcore.ErrorRecord
			if decodeValue(mem.Value, &er) == nil {
				out.RecentErrors = append(out.RecentErrors, er)
			}
		}
	}
	if decMems, err := m.memory.List(ctx, userID, memory.ListFilter{AgentName: agent, Tags: []string{"decision"}}, recentRecordLimit); err == nil {
		for _, mem := range decMems {
			var dec memcore.DecisionRecord
			if decodeValue(mem.Value, &dec) == nil {
				out.RecentDecisions = append(out.RecentDecisions, dec)
			}
		}
	}
	return out, nil
}

// PatternSummary is AnalyzePatterns' result: session history plus the
// error types and files that recur most often across a project's sessions.
type PatternSummary struct {
	SessionCount     int
	CommonErrorTypes map[string]int
	FrequentFiles    map[string]int
}

const patternScanLimit = 500

// AnalyzePatterns backs the `coding_analyze_patterns` tool: it looks across
// every session this process has seen for (user_id, project_id) plus the
// persisted error/file_change records, surfacing recurring error types and
// frequently touched files (spec §8 scenario 4: "analyze_patterns includes
// the session").
func (m *Manager) AnalyzePatterns(ctx context.Context, userID, projectID string) (PatternSummary, error) {
	m.mu.Lock()
	sessionCount := 0
	for _, sess := range m.sessions {
		if sess.UserID == userID && sess.ProjectID == projectID {
			sessionCount++
		}
	}
	m.mu.Unlock()

	summary := PatternSummary{
		SessionCount:     sessionCount,
		CommonErrorTypes: make(map[string]int),
		FrequentFiles:    make(map[string]int),
	}
	if m.memory == nil {
		return summary, nil
	}
	agent := agentNamespace(projectID)

	if errMems, err := m.memory.List(ctx, userID, memory.ListFilter{AgentName: agent, Tags: []string{"error"}}, patternScanLimit); err == nil {
		for _, mem := range errMems {
			var er memcore.ErrorRecord
			if decodeValue(mem.Value, &er) == nil && er.ErrorType != "" {
				summary.CommonErrorTypes[er.ErrorType]++
			}
		}
	}
	if fcMems, err := m.memory.List(ctx, userID, memory.ListFilter{AgentName: agent, Tags: []string{"file_change"}}, patternScanLimit); err == nil {
		for _, mem := range fcMems {
			var fc memcore.FileChange
			if decodeValue(mem.Value, &fc) == nil && fc.FilePath != "" {
				summary.FrequentFiles[fc.FilePath]++
			}
		}
	}
	return summary, nil
}

// SearchErrors backs the `coding_search_errors` tool: a lexical search over
// a project's recorded ErrorRecords (spec §9's "search_memory ... contains
// substring, case-insensitive" framing, applied to the error subset of
// CodingMemory's records rather than all memories).
func (m *Manager) SearchErrors(ctx context.Context, userID, projectID, query string, limit int) ([]memcore.ErrorRecord, error) {
	if m.memory == nil {
		return nil, memerr.New(component, memerr.CodeStoreUnavailable, "memory manager unavailable")
	}
	mems, err := m.memory.SearchText(ctx, userID, agentNamespace(projectID), query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]memcore.ErrorRecord, 0, len(mems))
	for _, mem := range mems {
		if !hasTag(mem.Tags, "error") {
			continue
		}
		var er memcore.ErrorRecord
		if decodeValue(mem.Value, &er) == nil {
			out = append(out, er)
		}
	}
	return out, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
