// Package memcore holds the value types shared by internal/memory,
// internal/graph, and internal/coding. Keeping them in one leaf package
// avoids an import cycle between those three (CodingMemory composes a
// MemoryManager and a GraphStore; MemoryManager's scorer needs GraphStore's
// distance function; both need the same Memory/GraphNode/GraphEdge shapes).
package memcore

import "time"

// Scope is where a Memory lives.
type Scope string

const (
	ScopeWorking    Scope = "working"
	ScopePersistent Scope = "persistent"
	// ScopeAll is a query-only pseudo-scope: "working" + "persistent" results
	// concatenated, each tagged with its originating scope.
	ScopeAll Scope = "all"
)

// GlobalAgent is the reserved agent_name readable by every agent of a user.
const GlobalAgent = "global"

// Memory is the unit of storage (spec §3.1).
type Memory struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// AgentName scopes the memory to one agent's namespace, or GlobalAgent
	// for cross-agent visibility (I7).
	AgentName string `json:"agent_name"`
	// Key is unique within (user_id, agent_name, scope).
	Key   string `json:"key"`
	Value any    `json:"value"`
	Scope Scope  `json:"scope"`

	Tags       []string `json:"tags,omitempty"`
	Importance float64  `json:"importance"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AccessCount    int64     `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// EmbeddingRef is an opaque handle into VectorIndex; empty if the memory
	// was never embedded (e.g. not yet indexed, or indexing disabled).
	EmbeddingRef string `json:"embedding_ref,omitempty"`
	// ContentHash is H(value ⊕ sorted(tags) ⊕ scope); the dedup key (§4.5.3).
	ContentHash string `json:"content_hash"`
}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUserMsg      Role = "user"
	RoleAssistantMsg Role = "assistant"
	RoleSystemMsg    Role = "system"
)

// Message is an append-only item in a Session's context memory (spec §3.1).
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CoreSession is the ordered message log plus a working-memory snapshot that
// spec §3.1 calls "Session", written and read back by memory.Manager's
// SaveSession/LoadSession.
type CoreSession struct {
	SessionName string            `json:"session_name"`
	UserID      string            `json:"user_id"`
	AgentName   string            `json:"agent_name"`
	Messages    []Message         `json:"messages"`
	Working     map[string]Memory `json:"working"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NodeType enumerates GraphNode.node_type values (spec §3.1).
type NodeType string

const (
	NodeMemory      NodeType = "memory"
	NodeUser        NodeType = "user"
	NodeTopic       NodeType = "topic"
	NodeInteraction NodeType = "interaction"
	NodeError       NodeType = "error"
	NodeSolution    NodeType = "solution"
	NodeDecision    NodeType = "decision"
	NodeFile        NodeType = "file"
	NodeSession     NodeType = "session"
)

// GraphNode is a node in the temporal knowledge graph (spec §3.1).
type GraphNode struct {
	ID       string         `json:"id"`
	NodeType NodeType       `json:"node_type"`
	Data     map[string]any `json:"data,omitempty"`
}

// RelType enumerates the closed set of GraphEdge relation types (spec §3.1).
type RelType string

const (
	RelRelatedTo  RelType = "related_to"
	RelDependsOn  RelType = "depends_on"
	RelLearnedFrom RelType = "learned_from"
	RelInfluences RelType = "influences"
	RelWorksOn    RelType = "works_on"
	RelSolvedBy   RelType = "solved_by"
	RelImplements RelType = "implements"
	RelCausedBy   RelType = "caused_by"
	RelSupersedes RelType = "supersedes"
	RelInSession  RelType = "in_session"
)

// GraphEdge is a time-scoped relation between two nodes (spec §3.1).
type GraphEdge struct {
	Src     string  `json:"src"`
	Dst     string  `json:"dst"`
	RelType RelType `json:"rel_type"`
	Weight  float64 `json:"weight"`

	Data map[string]any `json:"data,omitempty"`

	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Valid reports whether the edge covers instant t (§6.3, P6): valid_from ≤ t
// and (valid_until is nil or t < valid_until).
func (e GraphEdge) Valid(t time.Time) bool {
	if t.Before(e.ValidFrom) {
		return false
	}
	return e.ValidUntil == nil || t.Before(*e.ValidUntil)
}

// CodingSessionStatus is the state-machine status of a CodingSession (§4.6.1).
type CodingSessionStatus string

const (
	CodingSessionActive  CodingSessionStatus = "active"
	CodingSessionEnded   CodingSessionStatus = "ended"
	CodingSessionAborted CodingSessionStatus = "aborted"
)

// CodingSession is a tracked unit of development work (spec §3.1).
type CodingSession struct {
	SessionID   string              `json:"session_id"`
	UserID      string              `json:"user_id"`
	ProjectID   string              `json:"project_id"`
	Description string              `json:"description"`
	StartedAt   time.Time           `json:"started_at"`
	EndedAt     *time.Time          `json:"ended_at,omitempty"`
	Status      CodingSessionStatus `json:"status"`
	Tags        []string            `json:"tags,omitempty"`
	LinkedIssue string              `json:"linked_issue,omitempty"`
	Summary     string              `json:"summary,omitempty"`
}

// FileChangeAction enumerates FileChange.action values (§4.6.2).
type FileChangeAction string

const (
	FileActionCreate   FileChangeAction = "create"
	FileActionEdit     FileChangeAction = "edit"
	FileActionDelete   FileChangeAction = "delete"
	FileActionRename   FileChangeAction = "rename"
	FileActionRefactor FileChangeAction = "refactor"
	FileActionTest     FileChangeAction = "test"
)

// FileChange is a structured memory recording a change to one file (§4.6.2).
type FileChange struct {
	SessionID           string           `json:"session_id"`
	FilePath            string           `json:"file_path"`
	Action              FileChangeAction `json:"action"`
	Diff                string           `json:"diff,omitempty"`
	Reason              string           `json:"reason,omitempty"`
	RelatedFiles        []string         `json:"related_files,omitempty"`
	LineRange           *[2]int          `json:"line_range,omitempty"`
	ImplementsDecisionID string          `json:"implements_decision_id,omitempty"`
	RecordedAt          time.Time        `json:"recorded_at"`
}

// ErrorRecord is a structured memory recording an encountered error (§4.6.2).
type ErrorRecord struct {
	SessionID    string    `json:"session_id"`
	ErrorType    string    `json:"error_type"`
	Message      string    `json:"message"`
	StackTrace   string    `json:"stack_trace,omitempty"`
	FilePath     string    `json:"file_path,omitempty"`
	LineNumber   int       `json:"line_number,omitempty"`
	ScreenshotRef string   `json:"screenshot_ref,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Solution     string    `json:"solution,omitempty"`
	Resolved     bool      `json:"resolved"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// DecisionRecord is a structured memory recording a design decision (§4.6.2).
type DecisionRecord struct {
	SessionID    string    `json:"session_id"`
	Decision     string    `json:"decision"`
	Rationale    string    `json:"rationale,omitempty"`
	Alternatives []string  `json:"alternatives,omitempty"`
	Impact       string    `json:"impact,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	RelatedFiles []string  `json:"related_files,omitempty"`
	Confidence   float64   `json:"confidence"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// RecallOptions enumerates the knobs for a hybrid recall request (design
// note §9: replaces dynamic kwargs with a fixed record).
type RecallOptions struct {
	TopK          int
	CandidatesK   int
	RerankEnabled bool
	Scope         Scope
	RRFK          int
	ScorerWeights ScorerWeights
}

// ScorerWeights are RecallScorer's blend weights (§4.7); must sum to 1.
type ScorerWeights struct {
	Semantic   float64
	Recency    float64
	Frequency  float64
	Graph      float64
	Importance float64
}

// DefaultScorerWeights are the spec's default simplex (§4.7).
func DefaultScorerWeights() ScorerWeights {
	return ScorerWeights{Semantic: 0.30, Recency: 0.20, Frequency: 0.15, Graph: 0.15, Importance: 0.20}
}

// FeedbackLabel is a client-supplied relevance signal (§4.5.1, §4.7).
type FeedbackLabel string

const (
	FeedbackUseful    FeedbackLabel = "useful"
	FeedbackIrrelevant FeedbackLabel = "irrelevant"
	FeedbackOutdated  FeedbackLabel = "outdated"
)

// ScoredMemory pairs a Memory with its final recall score and the source
// paths (vector/lexical/both) that surfaced it, for telemetry and tie-break.
type ScoredMemory struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
	RRF    float64 `json:"rrf,omitempty"`
	FromVector bool `json:"from_vector,omitempty"`
	FromLexical bool `json:"from_lexical,omitempty"`
}
