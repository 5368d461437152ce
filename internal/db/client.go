// Package db provides the shared Postgres connection pool and async
// write-queue used by internal/store (KVStore) and internal/graph
// (GraphStore), both wrapped in circuitbreaker.DatabaseWrapper. A single
// jackc/pgx/v5 driver is used process-wide.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/circuitbreaker"
)

// Config holds database connection configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client wraps a circuit-breaker-protected Postgres pool plus a bounded
// async write queue for fire-and-forget operations (KVStore.bump_access is
// the primary consumer: an access-count bump must not add latency to the
// read path that triggered it).
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	config *Config

	writeQueue chan writeRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// writeRequest is a deferred write: run Fn against a background context,
// then report the outcome via Callback (nil is fine if nobody's waiting).
type writeRequest struct {
	Label    string
	Fn       func(ctx context.Context) error
	Callback func(error)
}

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	rawDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	db := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:         db,
		logger:     logger,
		config:     config,
		writeQueue: make(chan writeRequest, 1000),
		workers:    10,
		stopCh:     make(chan struct{}),
	}

	client.startWorkers()
	go client.healthCheck()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

func (c *Client) writeWorker(id int) {
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Info("Write worker stopped", zap.Int("worker_id", id))
			c.workerWg.Done()
			return
		case req := <-c.writeQueue:
			c.run(req)
		}
	}
}

func (c *Client) run(req writeRequest) {
	err := req.Fn(context.Background())
	if req.Callback != nil {
		req.Callback(err)
	}
	if err != nil {
		c.logger.Error("Async write failed", zap.String("label", req.Label), zap.Error(err))
	}
}

func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.run(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// QueueWrite enqueues fn for async execution, falling back to synchronous
// execution if the queue is full rather than dropping the write.
func (c *Client) QueueWrite(label string, fn func(ctx context.Context) error, callback func(error)) {
	req := writeRequest{Label: label, Fn: fn, Callback: callback}
	select {
	case c.writeQueue <- req:
	default:
		c.logger.Warn("Write queue full, falling back to synchronous write", zap.String("label", label))
		c.run(req)
	}
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close gracefully shuts down the database client
func (c *Client) Close() error {
	c.logger.Info("Shutting down database client")
	close(c.stopCh)
	c.workerWg.Wait()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.logger.Info("Database client closed")
	return nil
}

// GetDB returns the underlying *sql.DB for direct queries (KVStore,
// GraphStore's gorm dialector both build on this).
func (c *Client) GetDB() *sql.DB {
	return c.db.GetDB()
}

// WithTransactionCB runs fn inside a circuit-breaker-protected transaction.
func (c *Client) WithTransactionCB(ctx context.Context, fn func(*circuitbreaker.TxWrapper) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// Wrapper returns the underlying DatabaseWrapper for health checks and monitoring.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
