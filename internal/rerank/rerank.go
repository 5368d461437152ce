// Package rerank implements Reranker (C6): cross-encoder-style rescoring
// of a small candidate set (spec §4.4). No ecosystem cross-encoder library
// appears in the pack, so this is a prompted-scoring adapter over
// sashabaranov/go-openai's chat-completion endpoint (the same client
// internal/llm wraps), matching spec §9's framing of the reranker as "a
// capability; implementations may omit it entirely."
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/llm"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/metrics"
)

const component = "Reranker"

// Candidate is one pre-rerank item: an opaque id plus the text to score
// against the query.
type Candidate struct {
	ID   string
	Text string
}

// Scored pairs a Candidate's ID with the reranker's native-range score.
type Scored struct {
	ID    string
	Score float64
}

// Reranker is the spec's optional C6 capability.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
}

// OpenAIReranker prompts an LLM to emit a relevance score per candidate.
// MemoryManager's RecallHybrid passes at most its top 100 fused candidates;
// Rerank itself does not limit the candidate count.
type OpenAIReranker struct {
	llm    *llm.Service
	logger *zap.Logger
}

// New constructs an OpenAIReranker. svc may be nil — callers should prefer
// passing a nil *Reranker entirely when reranking is disabled rather than
// wrapping a nil llm.Service, but Rerank degrades safely either way.
func New(svc *llm.Service, logger *zap.Logger) *OpenAIReranker {
	return &OpenAIReranker{llm: svc, logger: logger}
}

type rerankResponseItem struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Rerank asks the LLM to score each candidate's relevance to query in
// [0, 1], returning the scores in the caller's input order and omitting any
// candidate the reply did not score. An unavailable LLM, a failed call or an
// unparseable reply returns an UpstreamFailure error; the caller is
// responsible for falling back to the pre-rerank ordering (spec §4.4).
func (r *OpenAIReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	start := time.Now()
	defer func() { metrics.RerankLatency.Observe(time.Since(start).Seconds()) }()

	if len(candidates) == 0 {
		return nil, nil
	}
	if r == nil || r.llm == nil {
		metrics.RerankSkipped.WithLabelValues("unavailable").Inc()
		return nil, memerr.New(component, memerr.CodeUpstreamFailure, "reranker unavailable")
	}

	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. id=%s text=%q\n", i+1, c.ID, truncate(c.Text, 400))
	}
	system := "You score how relevant each candidate passage is to the query, on a 0.0-1.0 scale. " +
		`Respond with a JSON array of objects: [{"id": "...", "score": 0.0}, ...], one entry per candidate, no other text.`
	user := fmt.Sprintf("Query: %s\n\nCandidates:\n%s", query, sb.String())

	reply, err := r.llm.Complete(ctx, system, user, 500)
	if err != nil {
		metrics.RerankSkipped.WithLabelValues("unavailable").Inc()
		return nil, memerr.Wrap(component, memerr.CodeUpstreamFailure, "rerank completion failed", err)
	}

	var items []rerankResponseItem
	if err := json.Unmarshal([]byte(extractJSONArray(reply)), &items); err != nil {
		metrics.RerankSkipped.WithLabelValues("unavailable").Inc()
		return nil, memerr.Wrap(component, memerr.CodeUpstreamFailure, "rerank response unparseable", err)
	}

	byID := make(map[string]float64, len(items))
	for _, it := range items {
		byID[it.ID] = it.Score
	}
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		score, ok := byID[c.ID]
		if !ok {
			continue
		}
		out = append(out, Scored{ID: c.ID, Score: score})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractJSONArray trims any prose an LLM might wrap around the JSON array
// it was asked to return verbatim.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return "[]"
	}
	return s[start : end+1]
}
