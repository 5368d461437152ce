// Package llm implements LLMService (C2), the spec's opaque chat/
// completion/summarization collaborator. Concrete adapter over
// sashabaranov/go-openai's chat-completion endpoint (grounded on
// l7n102031/supabase.go's summarization call), with a tracing span per call
// and provider errors surfaced as UpstreamFailure (spec §7). No circuit
// breaker wraps the provider client.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/cachelayer"
	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/tracing"
)

const component = "LLMService"

// completionCacheTTL bounds how long a cached chat completion is reused
// before the CacheLayer's time-based expiry drops it (spec §4.9).
const completionCacheTTL = 10 * time.Minute

// Service is LLMService (C2): chat/completion, summarization, and
// rerank-hint generation. Coding sessions (C10) use Summarize to
// materialize an ended session's summary Memory (spec §4.6.1).
type Service struct {
	client  *openai.Client
	model   string
	logger  *zap.Logger
	timeout time.Duration
	cache   cachelayer.Cache // optional; nil disables completion caching
}

// Config controls Service construction.
type Config struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible gateways
	Model   string
	Timeout time.Duration
}

// New constructs a Service. A zero-value Config.APIKey is allowed — callers
// (MemoryManager, CodingMemory) must treat a nil *Service as "LLMService
// unavailable" and degrade per spec §9 (reranking is optional; session-end
// summarization falls back to a generated placeholder, see coding.go).
func New(cfg Config, cache cachelayer.Cache, logger *zap.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	return &Service{
		client:  openai.NewClientWithConfig(oaiCfg),
		model:   cfg.Model,
		logger:  logger,
		timeout: cfg.Timeout,
		cache:   cache,
	}
}

// Complete runs a single-turn chat completion with systemPrompt/userContent,
// used by Summarize and by internal/rerank's prompted relevance scoring.
func (s *Service) Complete(ctx context.Context, systemPrompt, userContent string, maxTokens int) (string, error) {
	if s == nil {
		return "", memerr.New(component, memerr.CodeUpstreamFailure, "LLMService not configured")
	}
	ctx, span := tracing.StartSpan(ctx, "llm.complete")
	defer span.End()

	var cacheKey string
	if s.cache != nil {
		cacheKey = cachelayer.Key(systemPrompt+"\x00"+userContent, s.model, map[string]any{"max_tokens": maxTokens})
		if entry, ok := s.cache.Get(ctx, cacheKey); ok {
			return string(entry.Value), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
		Temperature: 0.3,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", memerr.Wrap(component, memerr.CodeUpstreamFailure, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", memerr.New(component, memerr.CodeUpstreamFailure, "no completion choices returned")
	}
	content := resp.Choices[0].Message.Content
	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, []byte(content), completionCacheTTL)
	}
	return content, nil
}

// Summarize condenses a coding session's transcript into a short summary
// used to materialize the session-end Memory (spec §4.6.1).
func (s *Service) Summarize(ctx context.Context, transcript string, maxTokens int) (string, error) {
	return s.Complete(ctx,
		"Summarize the following development session concisely: what changed, what errors were hit, what decisions were made.",
		transcript, maxTokens)
}

// Ping is used by the health manager's OptionalServiceHealthChecker: a
// trivial completion call with a tiny token budget.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("llm: not configured")
	}
	_, err := s.Complete(ctx, "ping", "ping", 1)
	return err
}
