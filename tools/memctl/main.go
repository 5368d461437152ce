// Command memctl is a one-shot export/import tool (spec §6.3), the same
// flag-parsed single-purpose shape as the teacher's own tools/replay
// command: connect to the configured stores, do one thing, exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shannon-memory/core/internal/db"
	"github.com/shannon-memory/core/internal/exportimport"
	"github.com/shannon-memory/core/internal/graph"
	"github.com/shannon-memory/core/internal/memory"
	"github.com/shannon-memory/core/internal/store"
)

func main() {
	mode := flag.String("mode", "", "export | import")
	memoriesPath := flag.String("memories", "memories.jsonl", "path to the memories.jsonl stream")
	graphPath := flag.String("graph", "graph.jsonl", "path to the graph.jsonl stream")
	metadataPath := flag.String("metadata", "metadata.json", "path to the metadata.json stream")
	flag.Parse()

	if *mode != "export" && *mode != "import" {
		fmt.Fprintln(os.Stderr, "usage: memctl -mode=export|import [-memories=...] [-graph=...] [-metadata=...]")
		os.Exit(2)
	}

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
		MaxConnections:  5,
		IdleConnections: 2,
		MaxLifetime:     time.Hour,
	}
	dbClient, err := db.NewClient(dbConfig, logger)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer dbClient.Close()

	kv := store.New(dbClient, logger)
	ctx := context.Background()
	if err := kv.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure memories schema failed", zap.Error(err))
	}

	gormDSN := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Password, dbConfig.Database, dbConfig.SSLMode,
	)
	gormDB, err := gorm.Open(postgres.Open(gormDSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("gorm connect failed", zap.Error(err))
	}
	graphStore, err := graph.New(gormDB, logger)
	if err != nil {
		logger.Fatal("graph store init failed", zap.Error(err))
	}
	if err := graphStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure graph schema failed", zap.Error(err))
	}

	switch *mode {
	case "export":
		runExport(ctx, kv, graphStore, logger, *memoriesPath, *graphPath, *metadataPath)
	case "import":
		runImport(ctx, kv, graphStore, logger, *memoriesPath, *graphPath, *metadataPath)
	}
}

func runExport(ctx context.Context, kv *store.KVStore, gs *graph.Store, logger *zap.Logger, memoriesPath, graphPath, metadataPath string) {
	memoriesFile, err := os.Create(memoriesPath)
	if err != nil {
		logger.Fatal("create memories file failed", zap.Error(err))
	}
	defer memoriesFile.Close()
	graphFile, err := os.Create(graphPath)
	if err != nil {
		logger.Fatal("create graph file failed", zap.Error(err))
	}
	defer graphFile.Close()
	metadataFile, err := os.Create(metadataPath)
	if err != nil {
		logger.Fatal("create metadata file failed", zap.Error(err))
	}
	defer metadataFile.Close()

	exporter := exportimport.NewExporter(kv, gs, logger)
	meta, err := exporter.ExportAll(ctx, memoriesFile, graphFile, metadataFile)
	if err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}
	logger.Info("export complete",
		zap.Int("memories", meta.MemoryCount), zap.Int("nodes", meta.NodeCount), zap.Int("edges", meta.EdgeCount))
}

func runImport(ctx context.Context, kv *store.KVStore, gs *graph.Store, logger *zap.Logger, memoriesPath, graphPath, metadataPath string) {
	// Import replays through MemoryManager.Restore rather than KVStore.Put.
	// vindex/lindex/embedder are nil here, so Restore writes only the KV rows
	// (working-scope records go to this process's working store and are lost
	// when it exits); no vector or lexical index entry is created for the
	// imported memories.
	mm := memory.New(kv, nil, nil, nil, nil, gs, logger)
	importer := exportimport.NewImporter(mm, gs, logger)

	metadataFile, err := os.Open(metadataPath)
	if err != nil {
		logger.Fatal("open metadata file failed", zap.Error(err))
	}
	defer metadataFile.Close()
	if _, err := importer.ImportMetadata(metadataFile); err != nil {
		logger.Fatal("metadata validation failed", zap.Error(err))
	}

	memoriesFile, err := os.Open(memoriesPath)
	if err != nil {
		logger.Fatal("open memories file failed", zap.Error(err))
	}
	defer memoriesFile.Close()
	memCount, err := importer.ImportMemories(ctx, memoriesFile)
	if err != nil {
		logger.Fatal("import memories failed", zap.Error(err))
	}

	graphFile, err := os.Open(graphPath)
	if err != nil {
		logger.Fatal("open graph file failed", zap.Error(err))
	}
	defer graphFile.Close()
	nodeCount, edgeCount, err := importer.ImportGraph(ctx, graphFile)
	if err != nil {
		logger.Fatal("import graph failed", zap.Error(err))
	}

	logger.Info("import complete",
		zap.Int("memories", memCount), zap.Int("nodes", nodeCount), zap.Int("edges", edgeCount))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var parsed int
		if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}
