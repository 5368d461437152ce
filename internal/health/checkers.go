package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/circuitbreaker"
)

// RedisHealthChecker checks Redis connectivity (used for CacheLayer / working memory)
type RedisHealthChecker struct {
	client  redis.UniversalClient
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "redis",
		Critical:  true,
		Timestamp: startTime,
	}

	if r.wrapper != nil && r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}

	return result
}

// DatabaseHealthChecker checks Postgres connectivity (used for KVStore / GraphStore)
type DatabaseHealthChecker struct {
	db      *sql.DB
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
	name    string
}

// NewDatabaseHealthChecker creates a database health checker. name identifies
// which component the pool backs ("kvstore", "graphstore", ...) since a
// memory core may run more than one Postgres-backed component.
func NewDatabaseHealthChecker(name string, db *sql.DB, wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		db:      db,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
		name:    name,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return d.name }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: d.name,
		Critical:  true,
		Timestamp: startTime,
	}

	if d.wrapper != nil && d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = d.name + " circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	err := d.db.PingContext(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = d.name + " ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	stats := d.db.Stats()

	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		result.Status = StatusDegraded
		result.Message = d.name + " connection pool exhausted"
	} else if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = d.name + " responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = d.name + " healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
		"circuit_breaker_open": false,
	}

	return result
}

// OptionalServiceHealthChecker reports on a non-critical external collaborator
// (Embedder, LLMService, Reranker). Absence or failure degrades rather than
// fails the service per spec.md §4.4/§9: reranking and rerank-hinted recall
// must function without these.
type OptionalServiceHealthChecker struct {
	name    string
	timeout time.Duration
	pingFn  func(ctx context.Context) error
}

// NewOptionalServiceHealthChecker creates a checker for an optional collaborator.
// pingFn may be nil, meaning the collaborator was never configured.
func NewOptionalServiceHealthChecker(name string, timeout time.Duration, pingFn func(ctx context.Context) error) *OptionalServiceHealthChecker {
	return &OptionalServiceHealthChecker{name: name, timeout: timeout, pingFn: pingFn}
}

func (o *OptionalServiceHealthChecker) Name() string           { return o.name }
func (o *OptionalServiceHealthChecker) IsCritical() bool       { return false }
func (o *OptionalServiceHealthChecker) Timeout() time.Duration { return o.timeout }

func (o *OptionalServiceHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: o.name, Critical: false, Timestamp: start}

	if o.pingFn == nil {
		result.Status = StatusDegraded
		result.Message = o.name + " not configured"
		result.Duration = time.Since(start)
		return result
	}

	err := o.pingFn(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusDegraded
		result.Error = err.Error()
		result.Message = o.name + " unreachable, recall will degrade"
		return result
	}
	result.Status = StatusHealthy
	result.Message = o.name + " healthy"
	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
