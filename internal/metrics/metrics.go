package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Memory operation metrics (remember/recall/forget/feedback on MemoryManager)
	MemoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_memory_operations_total",
			Help: "Total number of memory operations",
		},
		[]string{"op", "tier", "status"}, // op: remember/recall/forget/feedback, tier: working/context/persistent
	)

	MemoryOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memcore_memory_operation_latency_seconds",
			Help:    "Memory operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	MemoryFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_memory_fetches_total",
			Help: "Total number of recall fetch operations by retrieval path",
		},
		[]string{"path", "result"}, // path: key/semantic/hybrid/text, result: hit/miss/error
	)

	MemoryItemsRetrieved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memcore_memory_items_retrieved",
			Help:    "Number of memory items retrieved per fetch",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
		[]string{"path"},
	)

	MemoryWritesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_memory_writes_skipped_total",
			Help: "Total number of memory writes skipped due to filtering",
		},
		[]string{"reason"}, // reason: duplicate, low_value, error
	)

	// RRF fusion / rerank metrics
	FusionCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memcore_fusion_candidates",
			Help:    "Number of candidates entering RRF fusion per recall",
			Buckets: []float64{0, 5, 10, 20, 50, 100, 200},
		},
		[]string{"source"}, // source: vector, lexical
	)

	RerankLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memcore_rerank_latency_seconds",
			Help:    "Cross-encoder rerank latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RerankSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_rerank_skipped_total",
			Help: "Total number of recalls that skipped reranking",
		},
		[]string{"reason"}, // reason: disabled, unavailable, below_threshold
	)

	// Graph store metrics
	GraphOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_graph_operations_total",
			Help: "Total number of graph store operations",
		},
		[]string{"op", "status"}, // op: add_node/add_edge/invalidate_edge/query/supersede
	)

	GraphQueryHops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memcore_graph_query_hops",
			Help:    "Number of hops traversed per graph query",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// Coding session metrics
	CodingSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memcore_coding_sessions_active",
			Help: "Number of active coding sessions",
		},
	)

	CodingSessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_coding_session_events_total",
			Help: "Total number of structured coding-session memories recorded",
		},
		[]string{"kind"}, // kind: file_change/error/decision
	)

	ASTAnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memcore_ast_analysis_latency_seconds",
			Help:    "Latency of AST-based dependency analysis",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session cache metrics, and CacheLayer hit/miss counters (internal/cachelayer)
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memcore_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memcore_session_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memcore_session_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memcore_session_cache_size",
			Help: "Current number of sessions in local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memcore_session_cache_evictions_total",
			Help: "Total number of sessions evicted from cache",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_cache_hits_total",
			Help: "Total number of CacheLayer hits",
		},
		[]string{"backend"}, // backend: local, redis
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_cache_misses_total",
			Help: "Total number of CacheLayer misses",
		},
		[]string{"backend"},
	)

	// Vector index metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_vector_search_total",
			Help: "Total number of vector index searches",
		},
		[]string{"backend", "status"}, // backend: the Qdrant collection name (recorded by internal/vectordb only)
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memcore_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Lexical index metrics
	LexicalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_lexical_search_total",
			Help: "Total number of BM25 lexical searches",
		},
		[]string{"status"},
	)

	LexicalSearchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memcore_lexical_search_latency_seconds",
			Help:    "Lexical search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memcore_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Retrieval token budget (context assembly for coding sessions / recall_hybrid)
	RetrievalTokenBudget = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memcore_retrieval_token_budget",
			Help:    "Token budget used assembling a retrieval response",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000},
		},
		[]string{"retrieval_type"},
	)

	// Transport-level metrics (internal/transport/rest, internal/transport/jsonrpc)
	TransportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_transport_requests_total",
			Help: "Total number of requests handled per transport surface",
		},
		[]string{"transport", "route", "status"}, // transport: rest/jsonrpc, route: tool name or REST path
	)

	TransportRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memcore_transport_request_latency_seconds",
			Help:    "Request latency per transport surface",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport", "route"},
	)

	ToolInvocationsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memcore_tool_invocations_denied_total",
			Help: "Total number of tool invocations rejected by AuthGate's remote denylist",
		},
		[]string{"tool"},
	)
)

// RecordMemoryOperation records a MemoryManager operation outcome.
func RecordMemoryOperation(op, tier, status string, durationSeconds float64) {
	MemoryOperations.WithLabelValues(op, tier, status).Inc()
	if durationSeconds > 0 {
		MemoryOperationLatency.WithLabelValues(op).Observe(durationSeconds)
	}
}

// RecordGraphOperation records a GraphStore operation outcome.
func RecordGraphOperation(op, status string) {
	GraphOperations.WithLabelValues(op, status).Inc()
}

// RecordVectorSearchMetrics records vector index search metrics.
func RecordVectorSearchMetrics(backend, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(backend, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(backend).Observe(durationSeconds)
	}
}

// RecordLexicalSearchMetrics records BM25 lexical index search metrics.
func RecordLexicalSearchMetrics(status string, durationSeconds float64) {
	LexicalSearches.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		LexicalSearchLatency.Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics.
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordRetrievalTokens records the token budget used assembling a retrieval response.
func RecordRetrievalTokens(retrievalType string, tokens int) {
	if tokens > 0 {
		RetrievalTokenBudget.WithLabelValues(retrievalType).Observe(float64(tokens))
	}
}
