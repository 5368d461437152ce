// Package memory implements MemoryManager (C7), the core orchestrator
// unifying KVStore/VectorIndex/LexicalIndex/Reranker/RecallScorer behind
// spec §4.5's public contracts. Grounded on the teacher's session.Manager
// cache+store composition idiom (constructor takes every collaborator by
// interface, DI'd rather than resolved from a registry) generalized with
// sqvect's pkg/memory/recall.go RRF-fusion pipeline shape for hybrid
// recall's multi-channel merge.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/lexical"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/metrics"
	"github.com/shannon-memory/core/internal/recall"
	"github.com/shannon-memory/core/internal/rerank"
	"github.com/shannon-memory/core/internal/store"
	"github.com/shannon-memory/core/internal/vectorindex"
)

const component = "MemoryManager"

// maxValueBytes / maxTags are spec §5's resource limits.
const (
	maxValueBytes = 1 << 20 // 1 MiB
	maxTags       = 32
)

// Embedder is the Embedder (C1) contract MemoryManager needs: a single
// method matching internal/embeddings.Service.GenerateEmbedding's
// signature, kept as an interface here so Manager can be tested without a
// live embedding provider.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error)
}

// Manager is MemoryManager (C7).
type Manager struct {
	kv       *store.KVStore
	vindex   vectorindex.Index
	lindex   *lexical.Index
	embedder Embedder
	reranker rerank.Reranker // nil when reranking is unavailable (spec §4.4 "optional")
	graph    *graph.Store    // nil disables the graph_distance scoring term
	logger   *zap.Logger

	working  *workingStore
	contexts *contextStore

	weightsMu sync.RWMutex
	weights   memcore.ScorerWeights
}

// New constructs a Manager. vindex/lindex/kv are required; embedder,
// reranker, and graphStore may be nil, each degrading the capability that
// depends on them per spec §9's "implementations may omit it entirely".
func New(kv *store.KVStore, vindex vectorindex.Index, lindex *lexical.Index, embedder Embedder, reranker rerank.Reranker, graphStore *graph.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		kv:       kv,
		vindex:   vindex,
		lindex:   lindex,
		embedder: embedder,
		reranker: reranker,
		graph:    graphStore,
		logger:   logger,
		working:  newWorkingStore(),
		contexts: newContextStore(),
		weights:  memcore.DefaultScorerWeights(),
	}
}

// ScorerWeights returns the current default blend weights (spec §4.7),
// used by RecallHybrid whenever a caller's RecallOptions doesn't specify
// its own.
func (m *Manager) ScorerWeights() memcore.ScorerWeights {
	m.weightsMu.RLock()
	defer m.weightsMu.RUnlock()
	return m.weights
}

// SetScorerWeights replaces the default blend weights at runtime, letting
// an operator retune recall without a restart — the hook cmd/server's
// startScoringConfigWatch calls on each scoring.yaml reload (spec §9's
// scoring weights are explicitly operator-tunable, not compiled-in constants).
func (m *Manager) SetScorerWeights(w memcore.ScorerWeights) {
	m.weightsMu.Lock()
	defer m.weightsMu.Unlock()
	m.weights = w
}

// RememberSpec is remember's input (spec §4.5.1).
type RememberSpec struct {
	UserID     string
	AgentName  string
	Key        string
	Value      any
	Scope      memcore.Scope
	Tags       []string
	Importance float64
}

// Remember stores a Memory, deduplicating against an existing Memory
// sharing (user_id, agent_name, content_hash) by merging tags and taking
// max(importance) (spec §4.5.3), then staging writes to KVStore/
// VectorIndex/LexicalIndex so the Memory becomes visible to reads only
// after all three succeed (spec §4.5.3, §5 cancellation rollback).
func (m *Manager) Remember(ctx context.Context, spec RememberSpec) (*memcore.Memory, error) {
	start := time.Now()
	if spec.UserID == "" || spec.AgentName == "" || spec.Key == "" {
		return nil, memerr.New(component, memerr.CodeBadRequest, "user_id, agent_name and key are required")
	}
	if len(spec.Tags) > maxTags {
		return nil, memerr.New(component, memerr.CodeBadRequest, "tag cardinality exceeds limit")
	}
	if spec.Scope == "" {
		spec.Scope = memcore.ScopePersistent
	}
	text, sizeable := renderText(spec.Value)
	if sizeable > maxValueBytes {
		return nil, memerr.New(component, memerr.CodeBadRequest, "value exceeds 1 MiB size limit")
	}

	contentHash := ContentHash(spec.Value, spec.Tags, string(spec.Scope))
	existing, err := m.findByContentHash(ctx, spec.UserID, spec.AgentName, spec.Scope, contentHash)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mem := memcore.Memory{
		UserID:         spec.UserID,
		AgentName:      spec.AgentName,
		Key:            spec.Key,
		Value:          spec.Value,
		Scope:          spec.Scope,
		Tags:           spec.Tags,
		Importance:     spec.Importance,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		ContentHash:    contentHash,
	}
	if existing != nil {
		mem.Key = existing.Key
		mem.CreatedAt = existing.CreatedAt
		mem.AccessCount = existing.AccessCount
		mem.Tags = mergeTags(existing.Tags, spec.Tags)
		if existing.Importance > mem.Importance {
			mem.Importance = existing.Importance
		}
	}

	if ctx.Err() != nil {
		return nil, memerr.Wrap(component, memerr.CodeDeadline, "remember cancelled before staging", ctx.Err())
	}

	if spec.Scope == memcore.ScopeWorking {
		m.working.put(spec.UserID, spec.AgentName, mem)
		metrics.RecordMemoryOperation("remember", "working", "ok", time.Since(start).Seconds())
		return &mem, nil
	}

	// Staging+publish discipline (spec §4.5.3, §5): build the derived
	// views before publishing to KVStore, so a cancellation or indexing
	// failure never leaves a partially-visible Memory.
	var vector []float32
	if m.embedder != nil && text != "" {
		vector, err = m.embedder.GenerateEmbedding(ctx, text, "")
		if err != nil {
			metrics.RecordMemoryOperation("remember", "persistent", "embed_error", time.Since(start).Seconds())
			return nil, memerr.Wrap(component, memerr.CodeUpstreamFailure, "embedding generation failed", err)
		}
	}

	id := mem.UserID + ":" + mem.AgentName + ":" + mem.Key
	if ctx.Err() != nil {
		return nil, memerr.Wrap(component, memerr.CodeDeadline, "remember cancelled before publish", ctx.Err())
	}

	if vector != nil && m.vindex != nil {
		meta := vectorindex.Metadata{UserID: mem.UserID, AgentName: mem.AgentName, Scope: string(mem.Scope), Tags: mem.Tags}
		if err := m.vindex.Upsert(ctx, id, vector, meta); err != nil {
			metrics.RecordMemoryOperation("remember", "persistent", "vector_error", time.Since(start).Seconds())
			return nil, memerr.Wrap(component, memerr.CodeUpstreamFailure, "vector index upsert failed", err)
		}
		mem.EmbeddingRef = id
	}
	if m.lindex != nil && text != "" {
		m.lindex.Upsert(id, text, lexical.Metadata{UserID: mem.UserID, AgentName: mem.AgentName, Scope: string(mem.Scope), Tags: mem.Tags})
	}
	if err := m.kv.Put(ctx, mem); err != nil {
		metrics.RecordMemoryOperation("remember", "persistent", "error", time.Since(start).Seconds())
		return nil, err
	}
	if m.graph != nil {
		m.linkMemoryToUser(ctx, mem.UserID, id)
	}

	metrics.RecordMemoryOperation("remember", "persistent", "ok", time.Since(start).Seconds())
	return &mem, nil
}

func (m *Manager) findByContentHash(ctx context.Context, userID, agentName string, scope memcore.Scope, contentHash string) (*memcore.Memory, error) {
	if scope == memcore.ScopeWorking {
		if wm, ok := m.working.findByContentHash(userID, agentName, contentHash); ok {
			return &wm, nil
		}
		return nil, nil
	}
	return m.kv.FindByContentHash(ctx, userID, agentName, contentHash)
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func renderText(value any) (string, int) {
	s, ok := value.(string)
	if ok {
		return s, len(s)
	}
	return "", 0
}

// Restore re-publishes a Memory exactly as given — preserving ContentHash,
// CreatedAt, AccessCount, and EmbeddingRef rather than recomputing them the
// way Remember does — for import (spec §6.3/P8: `import(export(S))` must
// reproduce `S`, not a freshly-deduped rewrite of it). Working-scope
// memories are restored into the in-process working store only; persistent
// ones go through the same KVStore/VectorIndex/LexicalIndex publish
// Remember uses, re-embedding when an Embedder is configured so recall
// keeps working after a restore.
func (m *Manager) Restore(ctx context.Context, mem memcore.Memory) error {
	if mem.UserID == "" || mem.AgentName == "" || mem.Key == "" {
		return memerr.New(component, memerr.CodeBadRequest, "user_id, agent_name and key are required")
	}
	if mem.Scope == memcore.ScopeWorking {
		m.working.put(mem.UserID, mem.AgentName, mem)
		return nil
	}
	if err := m.kv.Put(ctx, mem); err != nil {
		return err
	}
	id := mem.UserID + ":" + mem.AgentName + ":" + mem.Key
	text, _ := renderText(mem.Value)
	if m.embedder != nil && text != "" && m.vindex != nil {
		vector, err := m.embedder.GenerateEmbedding(ctx, text, "")
		if err != nil {
			return memerr.Wrap(component, memerr.CodeUpstreamFailure, "restore embedding failed", err)
		}
		meta := vectorindex.Metadata{UserID: mem.UserID, AgentName: mem.AgentName, Scope: string(mem.Scope), Tags: mem.Tags}
		if err := m.vindex.Upsert(ctx, id, vector, meta); err != nil {
			return memerr.Wrap(component, memerr.CodeUpstreamFailure, "restore vector upsert failed", err)
		}
		mem.EmbeddingRef = id
		_ = m.kv.Put(ctx, mem)
	}
	if m.lindex != nil && text != "" {
		m.lindex.Upsert(id, text, lexical.Metadata{UserID: mem.UserID, AgentName: mem.AgentName, Scope: string(mem.Scope), Tags: mem.Tags})
	}
	return nil
}

// RecallByKey returns the Memory for (user_id, agent_name, key), checking
// working memory first since it shadows persistent per spec §4.5.4's
// layering (a key present in both tiers should resolve to the most recent
// in-process edit).
func (m *Manager) RecallByKey(ctx context.Context, userID, agentName, key string) (*memcore.Memory, error) {
	if wm, ok := m.working.get(userID, agentName, key); ok {
		return &wm, nil
	}
	mem, err := m.kv.Get(ctx, userID, agentName, key)
	if err != nil {
		metrics.MemoryFetches.WithLabelValues("key", "error").Inc()
		return nil, err
	}
	if mem == nil {
		metrics.MemoryFetches.WithLabelValues("key", "miss").Inc()
		return nil, nil
	}
	metrics.MemoryFetches.WithLabelValues("key", "hit").Inc()
	m.kv.BumpAccess(ctx, userID, agentName, key)
	return mem, nil
}

// Forget deletes the memory from the requested scope, cascading to
// VectorIndex/LexicalIndex for persistent memories (§I2).
func (m *Manager) Forget(ctx context.Context, userID, agentName, key string, scope memcore.Scope) (bool, error) {
	if scope == memcore.ScopeWorking {
		return m.working.delete(userID, agentName, key), nil
	}
	id := userID + ":" + agentName + ":" + key
	deleted, err := m.kv.Delete(ctx, userID, agentName, key)
	if err != nil {
		return false, err
	}
	if m.vindex != nil {
		_ = m.vindex.Delete(ctx, id)
	}
	if m.lindex != nil {
		m.lindex.Delete(id, lexical.Metadata{UserID: userID, AgentName: agentName})
	}
	metrics.RecordMemoryOperation("forget", "persistent", "ok", 0)
	return deleted, nil
}

// Feedback adjusts a Memory's importance cumulatively per spec §4.7's
// feedback-label rule and persists the result.
func (m *Manager) Feedback(ctx context.Context, userID, agentName, key string, label memcore.FeedbackLabel, weight float64) error {
	if wm, ok := m.working.get(userID, agentName, key); ok {
		wm.Importance = recall.AdjustImportance(wm.Importance, label, weight)
		m.working.put(userID, agentName, wm)
		metrics.RecordMemoryOperation("feedback", "working", "ok", 0)
		return nil
	}
	mem, err := m.kv.Get(ctx, userID, agentName, key)
	if err != nil {
		return err
	}
	if mem == nil {
		return memerr.New(component, memerr.CodeNotFound, "memory not found")
	}
	mem.Importance = recall.AdjustImportance(mem.Importance, label, weight)
	if err := m.kv.Put(ctx, *mem); err != nil {
		return err
	}
	metrics.RecordMemoryOperation("feedback", "persistent", "ok", 0)
	return nil
}

// ListFilter narrows List (spec §4.5.1's `filter`).
type ListFilter struct {
	AgentName string
	Tags      []string
	Since     *time.Time
	Scope     memcore.Scope // working/persistent/all; default all
}

// List returns memories for userID matching filter, scope-tagged when
// Scope == ScopeAll (spec §4.5.4).
func (m *Manager) List(ctx context.Context, userID string, filter ListFilter, limit int) ([]memcore.Memory, error) {
	scope := filter.Scope
	if scope == "" {
		scope = memcore.ScopeAll
	}
	var out []memcore.Memory
	if scope == memcore.ScopeWorking || scope == memcore.ScopeAll {
		out = append(out, filterWorking(m.working.list(userID, filter.AgentName), filter)...)
	}
	if scope == memcore.ScopePersistent || scope == memcore.ScopeAll {
		persisted, err := m.kv.Scan(ctx, userID, store.ScanFilter{AgentName: filter.AgentName, Tags: filter.Tags, Since: filter.Since, Limit: limit})
		if err != nil {
			return nil, err
		}
		out = append(out, persisted...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func filterWorking(ms []memcore.Memory, filter ListFilter) []memcore.Memory {
	if len(filter.Tags) == 0 && filter.Since == nil {
		return ms
	}
	out := ms[:0]
	for _, m := range ms {
		if filter.Since != nil && m.UpdatedAt.Before(*filter.Since) {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(m.Tags, filter.Tags) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func hasAnyTag(tags, want []string) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// searchTextScanLimit bounds how many persisted rows SearchText pulls
// before filtering, so a substring scan over a large account can't load an
// unbounded result set into memory.
const searchTextScanLimit = 5000

// SearchText runs a literal "contains substring, case-insensitive" match
// over memory values — the spec's `search_text(pattern, limit)` entry
// point, distinct from hybrid semantic recall. The source's behavior here
// was ambiguous between a tokenized match and SQL-LIKE containment; per
// spec.md's resolution of that open question, this is containment, not
// token-ranked search — a tokenizer would miss a literal substring like
// "cat" inside "concatenate", and score/rank rather than filter.
func (m *Manager) SearchText(ctx context.Context, userID, agentName, pattern string, limit int) ([]memcore.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []memcore.Memory

	for _, mem := range m.working.list(userID, agentName) {
		text, _ := renderText(mem.Value)
		if containsFold(text, pattern) {
			out = append(out, mem)
		}
	}

	persisted, err := m.kv.Scan(ctx, userID, store.ScanFilter{AgentName: agentName, Limit: searchTextScanLimit})
	if err != nil {
		return nil, err
	}
	for _, mem := range persisted {
		text, _ := renderText(mem.Value)
		if containsFold(text, pattern) {
			out = append(out, mem)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	metrics.MemoryFetches.WithLabelValues("text", hitOrMiss(len(out))).Inc()
	return out, nil
}

// containsFold reports whether text contains pattern, ignoring case.
func containsFold(text, pattern string) bool {
	if pattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
}

func hitOrMiss(n int) string {
	if n > 0 {
		return "hit"
	}
	return "miss"
}

func keyFromID(id, userID, agentName string) string {
	prefix := userID + ":" + agentName + ":"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		return id[len(prefix):]
	}
	return id
}

// Prune deletes persistent memories not accessed in olderThanDays, and
// working entries not updated in olderThanDays, returning the total
// deleted_count (spec §4.5.1).
func (m *Manager) Prune(ctx context.Context, userID string, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	persisted, err := m.kv.Scan(ctx, userID, store.ScanFilter{Limit: 10000})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, mem := range persisted {
		if mem.LastAccessedAt.Before(cutoff) {
			if deleted, err := m.Forget(ctx, mem.UserID, mem.AgentName, mem.Key, memcore.ScopePersistent); err == nil && deleted {
				n++
			}
		}
	}
	n += m.working.pruneOlderThan(userID, cutoff)
	return n, nil
}
