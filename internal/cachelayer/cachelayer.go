// Package cachelayer implements CacheLayer (C11): a content-addressed
// cache for LLM prompts and embeddings (spec §4.9), generalizing the
// teacher's internal/embeddings/cache.go LocalLRU+RedisCache pattern from
// a float32-vector-only cache to an opaque byte-blob cache so it can also
// hold rerank responses and other external-call results. Explicitly
// lifecycle-managed and dependency-injected (spec §9's design note:
// "avoid module-level globals") rather than the teacher's package-level
// embeddings.globalSvc singleton.
package cachelayer

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/circuitbreaker"
	"github.com/shannon-memory/core/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Key hashes (prompt, model, params) to a 128-bit content address (spec
// §4.9: "Key = H(prompt, model, params) truncated to 128 bits").
func Key(prompt, model string, params map[string]any) string {
	paramsJSON, _ := json.Marshal(params)
	h := sha256.Sum256([]byte(prompt + "\x00" + model + "\x00" + string(paramsJSON)))
	return hex.EncodeToString(h[:16]) // 128 bits = 16 bytes
}

// Entry is a cached value plus its lifecycle metadata (spec §4.9).
type Entry struct {
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL != 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// Cache is the backend-agnostic CacheLayer contract. Both backends share
// identical semantics: time-based expiry on read, and (for LocalLRU)
// LRU eviction on count when over max_size (spec §4.9).
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// LocalLRU is the in-memory default backend (teacher's
// embeddings.LocalLRU, generalized to Entry instead of []float32).
type LocalLRU struct {
	mu      sync.Mutex
	maxSize int
	list    *list.List
	index   map[string]*list.Element
	backend string // metric label
}

type lruNode struct {
	key   string
	entry Entry
}

// NewLocalLRU constructs an in-memory CacheLayer backend bounded at
// maxSize entries.
func NewLocalLRU(maxSize int) *LocalLRU {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &LocalLRU{
		maxSize: maxSize,
		list:    list.New(),
		index:   make(map[string]*list.Element, maxSize),
		backend: "local",
	}
}

func (c *LocalLRU) Get(_ context.Context, key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues(c.backend).Inc()
		return Entry{}, false
	}
	node := el.Value.(*lruNode)
	if node.entry.expired(time.Now()) {
		c.list.Remove(el)
		delete(c.index, key)
		metrics.CacheMisses.WithLabelValues(c.backend).Inc()
		return Entry{}, false
	}
	c.list.MoveToFront(el)
	metrics.CacheHits.WithLabelValues(c.backend).Inc()
	return node.entry, true
}

func (c *LocalLRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := Entry{Value: value, CreatedAt: time.Now(), TTL: ttl}
	if el, ok := c.index[key]; ok {
		el.Value = &lruNode{key: key, entry: entry}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(&lruNode{key: key, entry: entry})
	c.index[key] = el
	if c.list.Len() > c.maxSize {
		oldest := c.list.Back()
		if oldest != nil {
			c.list.Remove(oldest)
			delete(c.index, oldest.Value.(*lruNode).key)
		}
	}
}

// RedisCache is the optional external-backend (spec §4.9: "external
// key-value (optional)"), circuit-breaker-wrapped like every other Redis
// consumer in this codebase.
type RedisCache struct {
	wrapper *circuitbreaker.RedisWrapper
	backend string
}

// NewRedisCache wraps an already-connected redis.Client.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{wrapper: circuitbreaker.NewRedisWrapper(client, logger), backend: "redis"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool) {
	b, err := c.wrapper.Get(ctx, "cachelayer:"+key).Bytes()
	if err != nil {
		metrics.CacheMisses.WithLabelValues(c.backend).Inc()
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		metrics.CacheMisses.WithLabelValues(c.backend).Inc()
		return Entry{}, false
	}
	if e.expired(time.Now()) {
		metrics.CacheMisses.WithLabelValues(c.backend).Inc()
		return Entry{}, false
	}
	metrics.CacheHits.WithLabelValues(c.backend).Inc()
	return e, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	e := Entry{Value: value, CreatedAt: time.Now(), TTL: ttl}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	expiry := ttl
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	_ = c.wrapper.Set(ctx, "cachelayer:"+key, b, expiry).Err()
}
