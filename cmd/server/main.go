// Command server wires every component (C1-C13) together: storage
// (Postgres-backed KVStore, pgvector VectorIndex, BM25 lexical index,
// gorm-backed GraphStore), embeddings/LLM/rerank, MemoryManager and
// CodingMemory, AuthGate, and the stdio JSON-RPC + REST transports, the
// way the teacher's own cmd/orchestrator main.go wires its services: env-var
// configuration via getEnvOrDefault/getEnvOrDefaultInt, a shared admin
// http.ServeMux for health/metrics, and signal.Notify-driven graceful
// shutdown.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shannon-memory/core/internal/auth"
	"github.com/shannon-memory/core/internal/authgate"
	"github.com/shannon-memory/core/internal/cachelayer"
	"github.com/shannon-memory/core/internal/coding"
	"github.com/shannon-memory/core/internal/config"
	"github.com/shannon-memory/core/internal/db"
	"github.com/shannon-memory/core/internal/embeddings"
	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/health"
	"github.com/shannon-memory/core/internal/lexical"
	"github.com/shannon-memory/core/internal/llm"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/rerank"
	"github.com/shannon-memory/core/internal/store"
	"github.com/shannon-memory/core/internal/transport"
	"github.com/shannon-memory/core/internal/transport/jsonrpc"
	"github.com/shannon-memory/core/internal/transport/rest"
	"github.com/shannon-memory/core/internal/vectorindex"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConfig := &db.Config{
		Host:            getEnvOrDefault("POSTGRES_HOST", "postgres"),
		Port:            getEnvOrDefaultInt("POSTGRES_PORT", 5432),
		User:            getEnvOrDefault("POSTGRES_USER", "memcore"),
		Password:        getEnvOrDefault("POSTGRES_PASSWORD", "memcore"),
		Database:        getEnvOrDefault("POSTGRES_DB", "memcore"),
		SSLMode:         getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		MaxConnections:  getEnvOrDefaultInt("POSTGRES_MAX_CONNS", 20),
		IdleConnections: getEnvOrDefaultInt("POSTGRES_IDLE_CONNS", 5),
		MaxLifetime:     time.Hour,
	}

	dbClient, err := db.NewClient(dbConfig, logger)
	if err != nil {
		logger.Fatal("failed to initialize database client", zap.Error(err))
	}
	defer dbClient.Close()

	kv := store.New(dbClient, logger)
	ctx := context.Background()
	if err := kv.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure memories schema", zap.Error(err))
	}

	vindex, err := buildVectorIndex(ctx, dbClient, logger)
	if err != nil {
		logger.Fatal("failed to initialize vector index", zap.Error(err))
	}

	lindex := lexical.New(logger)

	embedCache := buildEmbeddingCache(logger)
	embedSvc := embeddings.NewService(embeddings.Config{
		BaseURL:      getEnvOrDefault("LLM_SERVICE_URL", "http://llm-service:8000"),
		DefaultModel: getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		Timeout:      5 * time.Second,
	}, embedCache)

	completionCache := buildCompletionCache(logger)
	llmSvc := llm.New(llm.Config{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		Timeout: 15 * time.Second,
	}, completionCache, logger)

	var reranker rerank.Reranker
	if getEnvOrDefault("RERANK_ENABLED", "true") == "true" {
		reranker = rerank.New(llmSvc, logger)
	}

	// gorm opens its own connection (GraphStore wraps it in its own
	// circuitbreaker.DatabaseWrapper independent of dbClient's pool,
	// mirroring how internal/graph's package doc describes the two stores
	// as siblings rather than one sharing the other's pool).
	gormDSN := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Password, dbConfig.Database, dbConfig.SSLMode,
	)
	gormDB, err := gorm.Open(postgres.Open(gormDSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to open gorm connection for GraphStore", zap.Error(err))
	}
	graphStore, err := graph.New(gormDB, logger)
	if err != nil {
		logger.Fatal("failed to construct GraphStore", zap.Error(err))
	}
	if err := graphStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure graph schema", zap.Error(err))
	}

	memMgr := memory.New(kv, vindex, lindex, embedSvc, reranker, graphStore, logger)
	codingMgr := coding.New(memMgr, graphStore, llmSvc, logger)

	configMgr := startScoringConfigWatch(ctx, memMgr, logger)
	defer configMgr.Stop()

	gate := buildAuthGate(dbClient.GetDB(), logger)

	dispatcher := transport.NewDispatcher(memMgr, codingMgr, logger)

	// Shared admin mux: health, Prometheus metrics, and the REST transport
	// all live on one port, the way the teacher's orchestrator mounts
	// health alongside its own metrics handler (cmd/orchestrator's main.go).
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	healthMgr := health.NewManager(logger)
	registerHealthCheckers(healthMgr, dbClient, logger)
	healthHandler := health.NewHTTPHandler(healthMgr, logger)
	healthHandler.RegisterRoutes(mux)
	if err := healthMgr.Start(ctx); err != nil {
		logger.Fatal("failed to start health manager", zap.Error(err))
	}
	defer healthMgr.Stop()

	// REST routes are mounted on their own sub-mux so auth middleware wraps
	// only /api/v1/*, never /health or /metrics — a k8s liveness/readiness
	// probe or a scrape job shouldn't need a bearer token to reach those.
	restMux := http.NewServeMux()
	restHandler := rest.NewHandler(dispatcher, gate, logger)
	restHandler.RegisterRoutes(restMux)

	var restWrapped http.Handler = restMux
	if gate != nil {
		restWrapped = gate.Middleware().HTTPMiddleware(restMux)
	}
	mux.Handle("/api/", restWrapped)

	adminPort := getEnvOrDefaultInt("ADMIN_PORT", 8090)
	adminAddr := ":" + strconv.Itoa(adminPort)
	adminServer := &http.Server{Addr: adminAddr, Handler: mux}
	go func() {
		logger.Info("admin/REST server listening", zap.String("address", adminAddr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server stopped", zap.Error(err))
		}
	}()

	// The stdio JSON-RPC transport serves whatever process launched this
	// binary over stdin/stdout (a local MCP-style client), independent of
	// the admin HTTP server above.
	rpcServer := jsonrpc.NewServer(dispatcher, gate, logger)
	rpcCtx, cancelRPC := context.WithCancel(context.Background())
	defer cancelRPC()
	go func() {
		if err := rpcServer.Serve(rpcCtx, os.Stdin, os.Stdout); err != nil {
			logger.Info("stdio JSON-RPC server stopped", zap.Error(err))
		}
	}()

	// Remote clients get the same JSON-RPC envelope over HTTP+SSE instead of
	// stdio: a GET /sse stream delivers responses, POST /messages submits
	// requests. Mounted on the admin mux alongside REST/health/metrics.
	sseHandler := jsonrpc.NewSSEHandler(rpcServer, logger)
	sseHandler.RegisterRoutes(mux)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", zap.Error(err))
	}
}

// buildVectorIndex defaults to pgvector (no extra service to run). A
// standalone Qdrant-backed vectorindex.HTTPIndex over the teacher's
// vectordb.Client is the documented alternative for deployments that
// already run Qdrant (see DESIGN.md); wiring that toggle in is left to an
// operator who has a Qdrant endpoint to point it at, since there's no
// default URL worth guessing here.
func buildVectorIndex(ctx context.Context, dbClient *db.Client, logger *zap.Logger) (vectorindex.Index, error) {
	dim := getEnvOrDefaultInt("EMBEDDING_DIM", 1536)
	model := getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	idx := vectorindex.NewPGVectorIndex(dbClient, model, dim, logger)
	if err := idx.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func buildEmbeddingCache(logger *zap.Logger) embeddings.EmbeddingCache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc, err := embeddings.NewRedisCache(addr)
		if err == nil {
			return rc
		}
		logger.Warn("embedding redis cache unavailable, falling back to in-process LRU", zap.Error(err))
	}
	return embeddings.NewLocalLRU(getEnvOrDefaultInt("EMBEDDING_CACHE_SIZE", 10000))
}

// buildCompletionCache backs CacheLayer (C11), generalized to []byte so it
// can hold chat completions and rerank responses as well as embeddings; see
// DESIGN.md's internal/cachelayer entry.
func buildCompletionCache(logger *zap.Logger) cachelayer.Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		return cachelayer.NewRedisCache(client, logger)
	}
	return cachelayer.NewLocalLRU(getEnvOrDefaultInt("COMPLETION_CACHE_SIZE", 2000))
}

// buildAuthGate wires AuthGate (C12) over internal/auth's Middleware. With
// JWT_SECRET set the middleware verifies credentials through Service and
// JWTManager; without it the middleware runs in skipAuth mode, so callers
// fall back to default_user while the gate's tool filter still applies.
// It returns nil (every transport then runs fully open) only when
// authgate.New fails.
func buildAuthGate(sqlDB *sql.DB, logger *zap.Logger) *authgate.Gate {
	jwtSecret := os.Getenv("JWT_SECRET")
	skipAuth := jwtSecret == ""
	var authService *auth.Service
	var jwtManager *auth.JWTManager
	if !skipAuth {
		authService = auth.NewService(sqlDB, logger, jwtSecret)
		jwtManager = auth.NewJWTManager(jwtSecret, 30*time.Minute, 7*24*time.Hour)
	}
	mw := auth.NewMiddleware(authService, jwtManager, skipAuth)
	gate, err := authgate.New(mw, logger)
	if err != nil {
		logger.Error("failed to construct AuthGate, running without tool filtering", zap.Error(err))
		return nil
	}
	return gate
}

// startScoringConfigWatch loads config/scoring.yaml's initial RecallScorer
// weights into memMgr, then starts a ConfigManager watching the directory
// for edits so an operator can retune the weight simplex without a
// restart (spec §4.7's weights are a deployment-tunable knob, not a
// compiled-in constant). A missing scoring.yaml is not an error — the
// manager already carries spec's default simplex.
func startScoringConfigWatch(ctx context.Context, memMgr *memory.Manager, logger *zap.Logger) *config.ConfigManager {
	configDir := getEnvOrDefault("CONFIG_DIR", "config")
	scoringFile := "scoring.yaml"
	scoringPath := configDir + "/" + scoringFile

	initial, err := config.LoadScoringConfig(scoringPath)
	if err != nil {
		logger.Warn("failed to load initial scoring config, using spec defaults", zap.Error(err))
	} else {
		memMgr.SetScorerWeights(initial.ScorerWeights())
	}

	configMgr, err := config.NewConfigManager(configDir, logger)
	if err != nil {
		logger.Warn("failed to start scoring config watcher, weights are now fixed for this process", zap.Error(err))
		return &config.ConfigManager{}
	}
	configMgr.RegisterHandler(scoringFile, func(event config.ChangeEvent) error {
		cfg, err := config.LoadScoringConfig(scoringPath)
		if err != nil {
			return err
		}
		memMgr.SetScorerWeights(cfg.ScorerWeights())
		logger.Info("reloaded scorer weights from scoring.yaml")
		return nil
	})
	if err := configMgr.Start(ctx); err != nil {
		logger.Warn("scoring config watcher failed to start", zap.Error(err))
	}
	return configMgr
}

func registerHealthCheckers(m *health.Manager, dbClient *db.Client, logger *zap.Logger) {
	checker := health.NewDatabaseHealthChecker("postgres", dbClient.GetDB(), dbClient.Wrapper(), logger)
	if err := m.RegisterChecker(checker); err != nil {
		logger.Error("failed to register database health checker", zap.Error(err))
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
