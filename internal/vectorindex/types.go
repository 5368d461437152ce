// Package vectorindex implements VectorIndex (C4): approximate-nearest-
// neighbor search over passage embeddings with metadata filter pushdown
// (spec §4.2). Two interchangeable backends share the Index interface:
// HTTPIndex (teacher's internal/vectordb Qdrant-style REST client,
// generalized) and PGVectorIndex (pgvector-go on the shared pgx/v5 pool).
package vectorindex

import "context"

// Metadata accompanies every upserted vector (spec §4.2).
type Metadata struct {
	UserID    string
	AgentName string
	Scope     string
	Tags      []string
}

// Filter narrows a Search call by metadata equality/membership.
type Filter struct {
	UserID    string // required: partitions are always scoped to one user
	AgentName string // empty = all agents of UserID
	Scope     string // empty = any scope
	Tags      []string
}

// Result is one search hit: a normalized similarity in [0, 1] (cosine),
// not a raw distance (spec §4.2: "sim = 1 − distance/2").
type Result struct {
	ID   string
	Sim  float64
	Meta Metadata
}

// Index is the backend-agnostic VectorIndex contract.
type Index interface {
	// Upsert inserts or replaces the vector for id, tagged with metadata.
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error
	// Search returns up to k nearest neighbors of queryVector matching filter,
	// ordered by descending similarity.
	Search(ctx context.Context, queryVector []float32, k int, filter Filter) ([]Result, error)
	// Delete removes id. Deleting an absent id is not an error (idempotent).
	Delete(ctx context.Context, id string) error
	// ModelTag reports the (model_name, dim) this index instance is bound to.
	ModelTag() (modelName string, dim int)
}

// CollectionName implements spec §6.3's naming scheme: one logical
// collection per (agent_name, scope).
func CollectionName(agentName, scope string) string {
	return "mem_" + agentName + "_" + scope
}

// CosineSimilarity converts a cosine distance in [0, 2] to the normalized
// similarity spec §4.2 requires downstream scoring to consume.
func CosineSimilarity(distance float64) float64 {
	return 1 - distance/2
}
