package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/db"
	"github.com/shannon-memory/core/internal/memerr"
)

// PGVectorIndex stores embeddings in Postgres via pgvector-go (l7n102031),
// bound to the same pgx/v5 pool as KVStore — a single-Postgres-instance
// alternative to the Qdrant-backed HTTPIndex. Unlike HTTPIndex it supports
// true per-id deletion, satisfying I2 directly.
type PGVectorIndex struct {
	client    *db.Client
	modelName string
	dim       int
	logger    *zap.Logger
}

// NewPGVectorIndex constructs a PGVectorIndex bound to (modelName, dim).
// EnsureSchema must be called once at startup before use.
func NewPGVectorIndex(client *db.Client, modelName string, dim int, logger *zap.Logger) *PGVectorIndex {
	return &PGVectorIndex{client: client, modelName: modelName, dim: dim, logger: logger}
}

func (p *PGVectorIndex) ModelTag() (string, int) { return p.modelName, p.dim }

// EnsureSchema creates the vector_index table and a btree index on
// (user_id, agent_name, scope); no ivfflat index is created, so Search
// computes the distance for every row that passes the filter. The
// `vector` extension must already exist in the database (CREATE EXTENSION
// vector), which is a deployment concern outside this package's scope.
func (p *PGVectorIndex) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS vector_index (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	scope TEXT NOT NULL,
	tags TEXT[] NOT NULL DEFAULT '{}',
	model_name TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vector_index_partition_idx ON vector_index (user_id, agent_name, scope);
`, p.dim)
	if _, err := p.client.Wrapper().ExecContext(ctx, ddl); err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "pgvector schema init failed", err)
	}
	return nil
}

func (p *PGVectorIndex) checkDim(vector []float32) error {
	if p.dim > 0 && len(vector) != p.dim {
		return memerr.New(component, memerr.CodeConflict,
			fmt.Sprintf("ModelMismatch: index bound to dim %d, got %d", p.dim, len(vector)))
	}
	return nil
}

func (p *PGVectorIndex) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	if err := p.checkDim(vector); err != nil {
		return err
	}
	const q = `
INSERT INTO vector_index (id, user_id, agent_name, scope, tags, model_name, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	user_id = EXCLUDED.user_id, agent_name = EXCLUDED.agent_name, scope = EXCLUDED.scope,
	tags = EXCLUDED.tags, model_name = EXCLUDED.model_name, embedding = EXCLUDED.embedding,
	updated_at = EXCLUDED.updated_at`
	op := func(ctx context.Context) error {
		_, err := p.client.Wrapper().ExecContext(ctx, q, id, meta.UserID, meta.AgentName, meta.Scope,
			pqArray(meta.Tags), p.modelName, pgvector.NewVector(vector), time.Now().UTC())
		return err
	}
	if err := memerr.Do(ctx, memerr.DefaultRetryConfig(), func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return memerr.Wrap(component, memerr.CodeStoreUnavailable, "pgvector upsert failed", err)
		}
		return nil
	}); err != nil {
		return err
	}
	return nil
}

func (p *PGVectorIndex) Search(ctx context.Context, queryVector []float32, k int, filter Filter) ([]Result, error) {
	if err := p.checkDim(queryVector); err != nil {
		return nil, err
	}
	q := strings.Builder{}
	q.WriteString(`SELECT id, user_id, agent_name, scope, tags, (embedding <=> $1) AS distance
		FROM vector_index WHERE user_id = $2 AND model_name = $3`)
	args := []any{pgvector.NewVector(queryVector), filter.UserID, p.modelName}
	idx := 4
	if filter.AgentName != "" {
		q.WriteString(fmt.Sprintf(" AND agent_name = $%d", idx))
		args = append(args, filter.AgentName)
		idx++
	}
	if filter.Scope != "" {
		q.WriteString(fmt.Sprintf(" AND scope = $%d", idx))
		args = append(args, filter.Scope)
		idx++
	}
	if len(filter.Tags) > 0 {
		q.WriteString(fmt.Sprintf(" AND tags && $%d", idx))
		args = append(args, pqArray(filter.Tags))
		idx++
	}
	q.WriteString(fmt.Sprintf(" ORDER BY distance ASC LIMIT $%d", idx))
	args = append(args, k)

	rows, err := p.client.Wrapper().QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "pgvector search failed", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var tags []byte
		var distance float64
		if err := rows.Scan(&r.ID, &r.Meta.UserID, &r.Meta.AgentName, &r.Meta.Scope, &tags, &distance); err != nil {
			return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "pgvector row decode failed", err)
		}
		r.Meta.Tags = parsePQArray(string(tags))
		r.Sim = CosineSimilarity(distance)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PGVectorIndex) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM vector_index WHERE id = $1`
	_, err := p.client.Wrapper().ExecContext(ctx, q, id)
	if err != nil && err != sql.ErrNoRows {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "pgvector delete failed", err)
	}
	return nil
}

// pqArray/parsePQArray mirror internal/store's Postgres text[] literal
// helpers; kept local per the same avoid-cross-package-coupling rationale.
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
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
