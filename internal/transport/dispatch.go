package transport

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/coding"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/memory"
)

const component = "ToolDispatcher"

// ToolNames is the full tool surface spec.md §6.1 names: 9 memory tools, 3
// graph tools, and 12 coding tools (the section labels the coding group
// "(11)" but lists 12 distinct names — implemented all 12; see DESIGN.md).
var ToolNames = []string{
	"memory_store", "memory_recall", "memory_search", "memory_list",
	"memory_delete", "memory_feedback", "memory_fetch", "memory_search_ids",
	"memory_stats",
	"memory_get_related", "memory_get_user_pattern", "memory_record_interaction",
	"coding_start_session", "coding_end_session", "coding_resume_session",
	"coding_track_file_change", "coding_record_error", "coding_record_decision",
	"coding_search_errors", "coding_get_project_context", "coding_analyze_patterns",
	"coding_analyze_file_dependencies", "coding_analyze_refactor_impact",
	"coding_suggest_refactor_order",
}

// Dispatcher routes a named tool call to MemoryManager/CodingMemory, the one
// dispatch table internal/transport/jsonrpc's tools/call and (for the
// subset with a matching REST route) internal/transport/rest share, so the
// two surfaces' "identical request validation and error mapping" (spec §7)
// is one implementation rather than two call sites that can drift.
type Dispatcher struct {
	memory *memory.Manager
	coding *coding.Manager
	logger *zap.Logger
}

// NewDispatcher constructs a Dispatcher. coding may be nil if CodingMemory
// isn't wired (all coding_* calls then return NotFound).
func NewDispatcher(mm *memory.Manager, cm *coding.Manager, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{memory: mm, coding: cm, logger: logger}
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return memerr.Wrap(component, memerr.CodeBadRequest, "invalid params", err)
	}
	return nil
}

// Call dispatches one tool invocation. userID is already resolved (spec
// §6.2's X-User-ID override applied by the caller via ResolveUserID) before
// reaching here; Call itself does no identification or denylist filtering —
// that's AuthGate's job, run by the caller before Call is reached.
func (d *Dispatcher) Call(ctx context.Context, userID, tool string, raw json.RawMessage) (any, error) {
	switch tool {
	case "memory_store":
		return d.memoryStore(ctx, userID, raw)
	case "memory_recall":
		return d.memoryRecall(ctx, userID, raw)
	case "memory_search":
		return d.memorySearch(ctx, userID, raw)
	case "memory_list":
		return d.memoryList(ctx, userID, raw)
	case "memory_delete":
		return d.memoryDelete(ctx, userID, raw)
	case "memory_feedback":
		return d.memoryFeedback(ctx, userID, raw)
	case "memory_fetch":
		return d.memoryFetch(ctx, userID, raw)
	case "memory_search_ids":
		return d.memorySearchIDs(ctx, userID, raw)
	case "memory_stats":
		return d.memoryStats(ctx, userID, raw)
	case "memory_get_related":
		return d.memoryGetRelated(ctx, raw)
	case "memory_get_user_pattern":
		return d.memory.GetUserPattern(ctx, userID)
	case "memory_record_interaction":
		return d.memoryRecordInteraction(ctx, userID, raw)
	case "coding_start_session":
		return d.codingStart(ctx, userID, raw)
	case "coding_end_session":
		return d.codingEnd(ctx, raw)
	case "coding_resume_session":
		return d.codingResume(ctx, raw)
	case "coding_track_file_change":
		return d.codingTrackFileChange(ctx, raw)
	case "coding_record_error":
		return d.codingRecordError(ctx, raw)
	case "coding_record_decision":
		return d.codingRecordDecision(ctx, raw)
	case "coding_search_errors":
		return d.codingSearchErrors(ctx, userID, raw)
	case "coding_get_project_context":
		return d.codingGetProjectContext(ctx, userID, raw)
	case "coding_analyze_patterns":
		return d.codingAnalyzePatterns(ctx, userID, raw)
	case "coding_analyze_file_dependencies":
		return d.codingAnalyzeFileDependencies(ctx, raw)
	case "coding_analyze_refactor_impact":
		return d.codingAnalyzeRefactorImpact(ctx, raw)
	case "coding_suggest_refactor_order":
		return d.codingSuggestRefactorOrder(ctx, raw)
	default:
		return nil, memerr.New(component, memerr.CodeNotFound, "unknown tool: "+tool)
	}
}

func (d *Dispatcher) requireMemory() error {
	if d.memory == nil {
		return memerr.New(component, memerr.CodeStoreUnavailable, "memory manager unavailable")
	}
	return nil
}

func (d *Dispatcher) requireCoding() error {
	if d.coding == nil {
		return memerr.New(component, memerr.CodeNotFound, "coding memory not enabled")
	}
	return nil
}

// --- memory_* ---

func (d *Dispatcher) memoryStore(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName  string         `json:"agent_name"`
		Key        string         `json:"key"`
		Value      any            `json:"value"`
		Scope      memcore.Scope  `json:"scope"`
		Tags       []string       `json:"tags"`
		Importance float64        `json:"importance"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.AgentName == "" {
		p.AgentName = memcore.GlobalAgent
	}
	return d.memory.Remember(ctx, memory.RememberSpec{
		UserID: userID, AgentName: p.AgentName, Key: p.Key, Value: p.Value,
		Scope: p.Scope, Tags: p.Tags, Importance: p.Importance,
	})
}

func (d *Dispatcher) memoryRecall(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string        `json:"agent_name"`
		Query     string        `json:"query"`
		K         int           `json:"k"`
		Scope     memcore.Scope `json:"scope"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.AgentName == "" {
		p.AgentName = memcore.GlobalAgent
	}
	opts := memcore.RecallOptions{TopK: p.K, Scope: p.Scope}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	return d.memory.RecallHybrid(ctx, userID, p.AgentName, p.Query, opts)
}

func (d *Dispatcher) memorySearch(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string `json:"agent_name"`
		Query     string `json:"q"`
		Limit     int    `json:"limit"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	return d.memory.SearchText(ctx, userID, p.AgentName, p.Query, p.Limit)
}

func (d *Dispatcher) memoryList(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string        `json:"agent_name"`
		Tags      []string      `json:"tags"`
		Scope     memcore.Scope `json:"scope"`
		Limit     int           `json:"limit"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	return d.memory.List(ctx, userID, memory.ListFilter{AgentName: p.AgentName, Tags: p.Tags, Scope: p.Scope}, p.Limit)
}

func (d *Dispatcher) memoryDelete(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string        `json:"agent_name"`
		Key       string        `json:"key"`
		Scope     memcore.Scope `json:"scope"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Scope == "" {
		p.Scope = memcore.ScopePersistent
	}
	deleted, err := d.memory.Forget(ctx, userID, p.AgentName, p.Key, p.Scope)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": deleted}, nil
}

func (d *Dispatcher) memoryFeedback(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string               `json:"agent_name"`
		Key       string               `json:"key"`
		Label     memcore.FeedbackLabel `json:"label"`
		Weight    float64              `json:"weight"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Weight == 0 {
		p.Weight = 1.0
	}
	if err := d.memory.Feedback(ctx, userID, p.AgentName, p.Key, p.Label, p.Weight); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Dispatcher) memoryFetch(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string `json:"agent_name"`
		Key       string `json:"key"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	mem, err := d.memory.RecallByKey(ctx, userID, p.AgentName, p.Key)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, memerr.New(component, memerr.CodeNotFound, "no memory for that key")
	}
	return mem, nil
}

func (d *Dispatcher) memorySearchIDs(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string `json:"agent_name"`
		Query     string `json:"query"`
		K         int    `json:"k"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.K <= 0 {
		p.K = 10
	}
	scored, err := d.memory.RecallSemantic(ctx, userID, p.AgentName, p.Query, p.K)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(scored))
	for _, sm := range scored {
		ids = append(ids, sm.Memory.ID)
	}
	return ids, nil
}

// statsResult is memory_stats' response: a coarse per-scope count, since
// MemoryManager exposes no dedicated aggregation query of its own — built
// here from the same List call the REST/tool list route already uses,
// rather than adding a new KVStore COUNT query for one low-traffic tool.
type statsResult struct {
	TotalMemories int            `json:"total_memories"`
	ByScope       map[string]int `json:"by_scope"`
}

const statsScanLimit = 10000

func (d *Dispatcher) memoryStats(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		AgentName string `json:"agent_name"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	mems, err := d.memory.List(ctx, userID, memory.ListFilter{AgentName: p.AgentName, Scope: memcore.ScopeAll}, statsScanLimit)
	if err != nil {
		return nil, err
	}
	out := statsResult{TotalMemories: len(mems), ByScope: make(map[string]int)}
	for _, m := range mems {
		out.ByScope[string(m.Scope)]++
	}
	return out, nil
}

// --- graph tools ---

func (d *Dispatcher) memoryGetRelated(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		SeedID string            `json:"seed_id"`
		Hops   int               `json:"hops"`
		Rels   []memcore.RelType `json:"rel_types"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Hops <= 0 {
		p.Hops = 1
	}
	return d.memory.GetRelated(ctx, p.SeedID, p.Hops, p.Rels)
}

func (d *Dispatcher) memoryRecordInteraction(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireMemory(); err != nil {
		return nil, err
	}
	var p struct {
		Query    string         `json:"query"`
		Response string         `json:"response"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	id, err := d.memory.RecordInteraction(ctx, userID, p.Query, p.Response, p.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]string{"interaction_id": id}, nil
}

// --- coding_* ---

func (d *Dispatcher) codingStart(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		ProjectID   string   `json:"project_id"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.Start(ctx, userID, p.ProjectID, p.Description, p.Tags)
}

func (d *Dispatcher) codingEnd(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"session_id"`
		Success   bool   `json:"success"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.End(ctx, p.SessionID, p.Success)
}

func (d *Dispatcher) codingResume(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.Resume(ctx, p.SessionID)
}

func (d *Dispatcher) codingTrackFileChange(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"session_id"`
		memcore.FileChange
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.TrackFileChange(ctx, p.SessionID, p.FileChange)
}

func (d *Dispatcher) codingRecordError(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		SessionID  string `json:"session_id"`
		Confidence float64 `json:"confidence"`
		memcore.ErrorRecord
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	errID, mem, err := d.coding.RecordError(ctx, p.SessionID, p.ErrorRecord, p.Confidence)
	if err != nil {
		return nil, err
	}
	return map[string]any{"error_id": errID, "memory": mem}, nil
}

func (d *Dispatcher) codingRecordDecision(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"session_id"`
		memcore.DecisionRecord
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	decID, mem, err := d.coding.RecordDecision(ctx, p.SessionID, p.DecisionRecord)
	if err != nil {
		return nil, err
	}
	return map[string]any{"decision_id": decID, "memory": mem}, nil
}

func (d *Dispatcher) codingSearchErrors(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		ProjectID string `json:"project_id"`
		Query     string `json:"query"`
		Limit     int    `json:"limit"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	return d.coding.SearchErrors(ctx, userID, p.ProjectID, p.Query, p.Limit)
}

func (d *Dispatcher) codingGetProjectContext(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.GetProjectContext(ctx, userID, p.ProjectID)
}

func (d *Dispatcher) codingAnalyzePatterns(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.AnalyzePatterns(ctx, userID, p.ProjectID)
}

func (d *Dispatcher) codingAnalyzeFileDependencies(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		Path string `json:"path"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.AnalyzeFileDependencies(ctx, p.Path)
}

func (d *Dispatcher) codingAnalyzeRefactorImpact(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		Path string `json:"path"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.coding.AnalyzeRefactorImpact(ctx, p.Path)
}

func (d *Dispatcher) codingSuggestRefactorOrder(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := d.requireCoding(); err != nil {
		return nil, err
	}
	var p struct {
		Files []string `json:"files"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	order, err := d.coding.SuggestRefactorOrder(ctx, p.Files)
	if err != nil {
		return nil, err
	}
	return map[string]any{"order": order}, nil
}

// sortedToolNames returns a sorted copy of ToolNames. tools/list does not
// call it; it advertises ToolNames in declaration order.
func sortedToolNames() []string {
	out := append([]string(nil), ToolNames...)
	sort.Strings(out)
	return out
}
