// Package store implements KVStore (C3): the durable mapping
// (user_id, agent_name, key) -> Memory backing persistent-scope memories.
// Built on internal/db's circuit-breaker-wrapped pgx/v5 pool.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/db"
	"github.com/shannon-memory/core/internal/memcore"
	"github.com/shannon-memory/core/internal/memerr"
)

const component = "KVStore"

// schema (spec §6.3):
//   memories(user_id, agent_name, scope, key, value, content_hash,
//            importance, tags, access_count, created_at, updated_at,
//            last_accessed_at, metadata_json)
//   primary key (user_id, agent_name, scope, key)

// KVStore is the durable persistent-memory mapping.
type KVStore struct {
	client *db.Client
	logger *zap.Logger
}

// New constructs a KVStore over an already-connected db.Client.
func New(client *db.Client, logger *zap.Logger) *KVStore {
	return &KVStore{client: client, logger: logger}
}

// EnsureSchema creates the memories table if it doesn't exist. Called once
// at startup; not part of the hot path.
func (s *KVStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS memories (
	user_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	scope TEXT NOT NULL,
	key TEXT NOT NULL,
	value JSONB NOT NULL,
	content_hash TEXT NOT NULL,
	importance DOUBLE PRECISION NOT NULL DEFAULT 0,
	tags TEXT[] NOT NULL DEFAULT '{}',
	access_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL,
	embedding_ref TEXT NOT NULL DEFAULT '',
	metadata_json JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (user_id, agent_name, scope, key)
);
CREATE INDEX IF NOT EXISTS memories_content_hash_idx ON memories (user_id, agent_name, content_hash);
CREATE INDEX IF NOT EXISTS memories_updated_at_idx ON memories (user_id, agent_name, updated_at DESC);
`
	_, err := s.client.Wrapper().ExecContext(ctx, ddl)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "schema init failed", err)
	}
	return nil
}

// Put is an idempotent upsert: updates updated_at, never decreases
// access_count (§4.1).
func (s *KVStore) Put(ctx context.Context, m memcore.Memory) error {
	if m.UserID == "" || m.AgentName == "" || m.Key == "" {
		return memerr.New(component, memerr.CodeBadRequest, "user_id, agent_name, and key are required")
	}
	valueJSON, err := json.Marshal(m.Value)
	if err != nil {
		return memerr.Wrap(component, memerr.CodeBadRequest, "value not JSON-encodable", err)
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = now
	}

	const q = `
INSERT INTO memories (user_id, agent_name, scope, key, value, content_hash, importance, tags,
                       access_count, created_at, updated_at, last_accessed_at, embedding_ref, metadata_json)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'{}')
ON CONFLICT (user_id, agent_name, scope, key) DO UPDATE SET
	value = EXCLUDED.value,
	content_hash = EXCLUDED.content_hash,
	importance = EXCLUDED.importance,
	tags = EXCLUDED.tags,
	access_count = GREATEST(memories.access_count, EXCLUDED.access_count),
	updated_at = EXCLUDED.updated_at,
	embedding_ref = EXCLUDED.embedding_ref
`
	op := func(ctx context.Context) error {
		_, err := s.client.Wrapper().ExecContext(ctx, q,
			m.UserID, m.AgentName, string(m.Scope), m.Key, valueJSON, m.ContentHash, m.Importance,
			pqArray(m.Tags), m.AccessCount, m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.EmbeddingRef,
		)
		return err
	}
	if err := memerr.Do(ctx, memerr.DefaultRetryConfig(), func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return memerr.Wrap(component, memerr.CodeStoreUnavailable, "put failed", err)
		}
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// Get returns the memory for (user_id, agent_name, key) across both scopes,
// preferring persistent if both somehow exist (they shouldn't, since key
// uniqueness is per-scope per §3.1, but Get doesn't take a scope argument).
func (s *KVStore) Get(ctx context.Context, userID, agentName, key string) (*memcore.Memory, error) {
	const q = `
SELECT user_id, agent_name, scope, key, value, content_hash, importance, tags,
       access_count, created_at, updated_at, last_accessed_at, embedding_ref
FROM memories WHERE user_id=$1 AND agent_name=$2 AND key=$3
ORDER BY (scope = 'persistent') DESC
LIMIT 1`
	row := s.client.Wrapper().QueryRowContext(ctx, q, userID, agentName, key)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "get failed", err)
	}
	return m, nil
}

// FindByContentHash looks up an existing Memory sharing (user_id,
// agent_name, content_hash), used by MemoryManager's dedup write path
// (spec §4.5.3) via the memories_content_hash_idx index.
func (s *KVStore) FindByContentHash(ctx context.Context, userID, agentName, contentHash string) (*memcore.Memory, error) {
	const q = `
SELECT user_id, agent_name, scope, key, value, content_hash, importance, tags,
       access_count, created_at, updated_at, last_accessed_at, embedding_ref
FROM memories WHERE user_id=$1 AND agent_name=$2 AND content_hash=$3
LIMIT 1`
	row := s.client.Wrapper().QueryRowContext(ctx, q, userID, agentName, contentHash)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "find_by_content_hash failed", err)
	}
	return m, nil
}

// Delete removes the memory; returns false if it didn't exist. Cascading
// deletes into VectorIndex/LexicalIndex (§I2) is MemoryManager's
// responsibility, since KVStore has no reference to those indexes.
func (s *KVStore) Delete(ctx context.Context, userID, agentName, key string) (bool, error) {
	const q = `DELETE FROM memories WHERE user_id=$1 AND agent_name=$2 AND key=$3`
	res, err := s.client.Wrapper().ExecContext(ctx, q, userID, agentName, key)
	if err != nil {
		return false, memerr.Wrap(component, memerr.CodeStoreUnavailable, "delete failed", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ScanFilter narrows a Scan call.
type ScanFilter struct {
	AgentName string // empty = all agents
	Tags      []string
	Since     *time.Time
	Limit     int
}

// Scan lists memories for a user ordered by updated_at desc (§4.1).
func (s *KVStore) Scan(ctx context.Context, userID string, f ScanFilter) ([]memcore.Memory, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := strings.Builder{}
	q.WriteString(`SELECT user_id, agent_name, scope, key, value, content_hash, importance, tags,
		access_count, created_at, updated_at, last_accessed_at, embedding_ref
		FROM memories WHERE user_id = $1`)
	args := []any{userID}
	idx := 2
	if f.AgentName != "" {
		q.WriteString(fmt.Sprintf(" AND agent_name = $%d", idx))
		args = append(args, f.AgentName)
		idx++
	}
	if f.Since != nil {
		q.WriteString(fmt.Sprintf(" AND updated_at >= $%d", idx))
		args = append(args, *f.Since)
		idx++
	}
	if len(f.Tags) > 0 {
		q.WriteString(fmt.Sprintf(" AND tags && $%d", idx))
		args = append(args, pqArray(f.Tags))
		idx++
	}
	q.WriteString(fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", idx))
	args = append(args, limit)

	rows, err := s.client.Wrapper().QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "scan failed", err)
	}
	defer rows.Close()

	var out []memcore.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "scan row decode failed", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ScanAll lists every persisted memory across every user, ordered by
// (user_id, agent_name, key), for full-database export (spec §6.3's
// memories.jsonl stream). Working-scope memories never reach KVStore, so
// export only ever covers persistent scope, consistent with §4.5.4's
// "working memory does not survive a restart".
func (s *KVStore) ScanAll(ctx context.Context) ([]memcore.Memory, error) {
	const q = `SELECT user_id, agent_name, scope, key, value, content_hash, importance, tags,
		access_count, created_at, updated_at, last_accessed_at, embedding_ref
		FROM memories ORDER BY user_id ASC, agent_name ASC, key ASC`
	rows, err := s.client.Wrapper().QueryContext(ctx, q)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "scan_all failed", err)
	}
	defer rows.Close()

	var out []memcore.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "scan_all row decode failed", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// BumpAccess atomically increments access_count and bumps last_accessed_at.
// Queued asynchronously on the shared db.Client write queue since it's a
// side-effect of reads (§4.5.2 step 7) and must not add latency to recall.
func (s *KVStore) BumpAccess(ctx context.Context, userID, agentName, key string) {
	s.client.QueueWrite("kvstore.bump_access", func(ctx context.Context) error {
		const q = `UPDATE memories SET access_count = access_count + 1, last_accessed_at = $4
			WHERE user_id=$1 AND agent_name=$2 AND key=$3`
		_, err := s.client.Wrapper().ExecContext(ctx, q, userID, agentName, key, time.Now().UTC())
		return err
	}, nil)
}

// BumpAccessSync is the synchronous form, for callers (tests, migrations)
// that need the increment to be visible before returning.
func (s *KVStore) BumpAccessSync(ctx context.Context, userID, agentName, key string) error {
	const q = `UPDATE memories SET access_count = access_count + 1, last_accessed_at = $4
		WHERE user_id=$1 AND agent_name=$2 AND key=$3`
	_, err := s.client.Wrapper().ExecContext(ctx, q, userID, agentName, key, time.Now().UTC())
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "bump_access failed", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row *sql.Row) (*memcore.Memory, error) {
	return scanInto(row)
}

func scanMemoryRows(rows *sql.Rows) (*memcore.Memory, error) {
	return scanInto(rows)
}

func scanInto(r rowScanner) (*memcore.Memory, error) {
	var m memcore.Memory
	var scope, valueJSON string
	var tags []byte
	if err := r.Scan(&m.UserID, &m.AgentName, &scope, &m.Key, &valueJSON, &m.ContentHash, &m.Importance,
		&tags, &m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &m.EmbeddingRef); err != nil {
		return nil, err
	}
	m.Scope = memcore.Scope(scope)
	if err := json.Unmarshal([]byte(valueJSON), &m.Value); err != nil {
		return nil, err
	}
	m.Tags = parsePQArray(string(tags))
	return &m, nil
}

// pqArray formats a Go string slice as a Postgres array literal, same
// format as auth.StringArray.Value but kept local to avoid an
// internal/store -> internal/auth dependency for one helper.
func pqArray(ss []string) string {
	if len(ss) == 0 {
		return "{}"
	}
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func parsePQArray(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
