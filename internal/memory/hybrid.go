package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shannon-memory/core/internal/lexical"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/metrics"
	"github.com/shannon-memory/core/internal/recall"
	"github.com/shannon-memory/core/internal/rerank"
	"github.com/shannon-memory/core/internal/vectorindex"
)

// defaultCandidatesK mirrors spec §4.5.2: "candidates_k = max(5·top_k, 100)".
func defaultCandidatesK(topK int) int {
	c := 5 * topK
	if c < 100 {
		c = 100
	}
	return c
}

// RecallSemantic is the pure vector-search entry point (spec §4.5.1):
// no lexical channel, no fusion, just VectorIndex ranked by similarity.
func (m *Manager) RecallSemantic(ctx context.Context, userID, agentName, query string, k int) ([]memcore.ScoredMemory, error) {
	start := time.Now()
	if m.embedder == nil || m.vindex == nil {
		metrics.MemoryFetches.WithLabelValues("semantic", "miss").Inc()
		return nil, nil
	}
	vec, err := m.embedder.GenerateEmbedding(ctx, query, "")
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeUpstreamFailure, "query embedding failed", err)
	}
	results, err := m.vindex.Search(ctx, vec, k, vectorindex.Filter{UserID: userID, AgentName: agentName})
	if err != nil {
		return nil, err
	}
	out := make([]memcore.ScoredMemory, 0, len(results))
	for _, r := range results {
		mem, err := m.fetchByID(ctx, r.ID, userID, agentName)
		if err != nil || mem == nil {
			continue
		}
		out = append(out, memcore.ScoredMemory{Memory: *mem, Score: r.Sim, FromVector: true})
		m.kv.BumpAccess(ctx, userID, agentName, mem.Key)
	}
	metrics.RecordMemoryOperation("recall_semantic", "persistent", "ok", time.Since(start).Seconds())
	metrics.MemoryFetches.WithLabelValues("semantic", hitOrMiss(len(out))).Inc()
	return out, nil
}

// RecallHybrid runs the full pipeline of spec §4.5.2: parallel vector +
// lexical candidate retrieval, RRF fusion, optional reranking, RecallScorer
// blending, tie-break ordering, and a bump_access side effect for every
// returned id.
func (m *Manager) RecallHybrid(ctx context.Context, userID, agentName, query string, opts memcore.RecallOptions) ([]memcore.ScoredMemory, error) {
	start := time.Now()
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	if topK > 100 {
		topK = 100 // spec §5 resource limit
	}
	candidatesK := opts.CandidatesK
	if candidatesK <= 0 {
		candidatesK = defaultCandidatesK(topK)
	}
	if candidatesK > 500 {
		candidatesK = 500 // spec §5 resource limit
	}
	weights := opts.ScorerWeights
	if weights == (memcore.ScorerWeights{}) {
		weights = m.ScorerWeights()
	}

	// Vector and lexical candidate retrieval run as a join over two tasks
	// sharing ctx's deadline (spec §9's "coroutines" note: both are always
	// awaited, cancel-on-first-error is not used, so one channel failing
	// still lets the other produce a degraded result).
	var vectorRanked []recall.Ranked
	simByID := make(map[string]float64)
	var lexicalRanked []recall.Ranked

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if m.embedder == nil || m.vindex == nil {
			return
		}
		vec, err := m.embedder.GenerateEmbedding(ctx, query, "")
		if err != nil {
			return
		}
		vresults, err := m.vindex.Search(ctx, vec, candidatesK, vectorindex.Filter{UserID: userID, AgentName: agentName, Scope: string(opts.Scope)})
		if err != nil {
			return
		}
		ranked := make([]recall.Ranked, 0, len(vresults))
		sims := make(map[string]float64, len(vresults))
		for i, r := range vresults {
			ranked = append(ranked, recall.Ranked{ID: r.ID, Rank: i + 1})
			sims[r.ID] = r.Sim
		}
		vectorRanked = ranked
		simByID = sims
	}()
	go func() {
		defer wg.Done()
		if m.lindex == nil {
			return
		}
		lresults := m.lindex.Search(query, candidatesK, lexical.Filter{UserID: userID, AgentName: agentName})
		ranked := make([]recall.Ranked, 0, len(lresults))
		for i, r := range lresults {
			ranked = append(ranked, recall.Ranked{ID: r.ID, Rank: i + 1})
		}
		lexicalRanked = ranked
	}()
	wg.Wait()

	metrics.FusionCandidates.WithLabelValues("vector").Observe(float64(len(vectorRanked)))
	metrics.FusionCandidates.WithLabelValues("lexical").Observe(float64(len(lexicalRanked)))

	fused := recall.RRFFuse(vectorRanked, lexicalRanked, candidatesK)
	if len(fused) == 0 {
		metrics.RecordMemoryOperation("recall_hybrid", "persistent", "ok", time.Since(start).Seconds())
		return nil, nil
	}

	candidates := make([]memcore.ScoredMemory, 0, len(fused))
	textByID := make(map[string]string, len(fused))
	for _, f := range fused {
		mem, err := m.fetchByID(ctx, f.ID, userID, agentName)
		if err != nil || mem == nil {
			continue
		}
		candidates = append(candidates, memcore.ScoredMemory{Memory: *mem, RRF: f.RRF, FromVector: f.FromVector, FromLexical: f.FromLexical})
		if s, ok := mem.Value.(string); ok {
			textByID[f.ID] = s
		}
	}

	// Step 5 (spec §4.5.2): optional reranking replaces the ordering.
	if opts.RerankEnabled && m.reranker != nil {
		rerankCandidates := make([]rerank.Candidate, 0, len(candidates))
		for _, c := range candidates {
			id := candidateIDFor(c, userID, agentName)
			rerankCandidates = append(rerankCandidates, rerank.Candidate{ID: id, Text: textByID[id]})
		}
		// Only the top 100 fused candidates are reranked; the rest keep their
		// vector similarity as the semantic term.
		if len(rerankCandidates) > 100 {
			rerankCandidates = rerankCandidates[:100]
		}
		scored, err := m.reranker.Rerank(ctx, query, rerankCandidates)
		if err == nil && len(scored) > 0 {
			// The reranked relevance score supersedes the vector similarity
			// feeding RecallScorer's semantic term (spec §4.5.2 step 5-6:
			// rerank replaces the ordering, then RecallScorer still blends
			// it with recency/frequency/graph/importance).
			for _, s := range scored {
				simByID[s.ID] = s.Score
			}
		}
		// failure degrades silently to the pre-rerank ordering (spec §4.4)
	}

	now := time.Now().UTC()
	for i := range candidates {
		id := candidateIDFor(candidates[i], userID, agentName)
		graphDist := -1
		if m.graph != nil {
			seeds := map[string]struct{}{userID: {}}
			d, found, err := m.graph.ShortestPathLen(ctx, id, seeds)
			if err == nil && found {
				graphDist = d
			}
		}
		candidates[i].Score = recall.Score(recall.Signals{
			Semantic:      simByID[id],
			AccessCount:   candidates[i].Memory.AccessCount,
			Importance:    candidates[i].Memory.Importance,
			LastAccessed:  candidates[i].Memory.LastAccessedAt,
			GraphDistance: graphDist,
		}, weights, now)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if !a.Memory.UpdatedAt.Equal(b.Memory.UpdatedAt) {
			return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
		}
		return a.Memory.Key < b.Memory.Key
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	for _, c := range candidates {
		if _, ok := m.working.get(userID, agentName, c.Memory.Key); ok {
			continue // working-scope hits have no KVStore row to bump
		}
		m.kv.BumpAccess(ctx, userID, agentName, c.Memory.Key)
	}
	metrics.RecordMemoryOperation("recall_hybrid", "persistent", "ok", time.Since(start).Seconds())
	metrics.MemoryFetches.WithLabelValues("hybrid", hitOrMiss(len(candidates))).Inc()
	return candidates, nil
}

func candidateIDFor(c memcore.ScoredMemory, userID, agentName string) string {
	return userID + ":" + agentName + ":" + c.Memory.Key
}

func (m *Manager) fetchByID(ctx context.Context, id, userID, agentName string) (*memcore.Memory, error) {
	key := keyFromID(id, userID, agentName)
	if wm, ok := m.working.get(userID, agentName, key); ok {
		return &wm, nil
	}
	return m.kv.Get(ctx, userID, agentName, key)
}
