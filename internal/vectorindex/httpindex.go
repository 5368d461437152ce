package vectorindex

import (
	"context"
	"fmt"

	"github.com/shannon-memory/core/internal/memerr"
	"github.com/shannon-memory/core/internal/vectordb"
)

const component = "VectorIndex"

// HTTPIndex generalizes the teacher's Qdrant REST client
// (internal/vectordb) into the spec's Index interface: one Qdrant
// collection per (agent_name, scope), named per CollectionName.
type HTTPIndex struct {
	client    *vectordb.Client
	modelName string
	dim       int
}

// NewHTTPIndex binds an already-initialized vectordb.Client to a
// (model_name, dim) tag. Searching or upserting a vector of a different
// dim fails with ModelMismatch (spec §4.2).
func NewHTTPIndex(client *vectordb.Client, modelName string, dim int) *HTTPIndex {
	return &HTTPIndex{client: client, modelName: modelName, dim: dim}
}

func (h *HTTPIndex) ModelTag() (string, int) { return h.modelName, h.dim }

func (h *HTTPIndex) checkDim(vector []float32) error {
	if h.dim > 0 && len(vector) != h.dim {
		return memerr.New(component, memerr.CodeConflict,
			fmt.Sprintf("ModelMismatch: index bound to dim %d, got %d", h.dim, len(vector)))
	}
	return nil
}

func (h *HTTPIndex) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	if err := h.checkDim(vector); err != nil {
		return err
	}
	collection := CollectionName(meta.AgentName, meta.Scope)
	payload := map[string]interface{}{
		"user_id":    meta.UserID,
		"agent_name": meta.AgentName,
		"scope":      meta.Scope,
		"tags":       meta.Tags,
		"model_name": h.modelName,
	}
	_, err := h.client.Upsert(ctx, collection, []vectordb.UpsertItem{{ID: id, Vector: vector, Payload: payload}})
	if err != nil {
		return memerr.Wrap(component, memerr.CodeStoreUnavailable, "http index upsert failed", err)
	}
	return nil
}

func (h *HTTPIndex) Search(ctx context.Context, queryVector []float32, k int, filter Filter) ([]Result, error) {
	if err := h.checkDim(queryVector); err != nil {
		return nil, err
	}
	agent := filter.AgentName
	if agent == "" {
		agent = "global"
	}
	scope := filter.Scope
	if scope == "" {
		scope = "persistent"
	}
	collection := CollectionName(agent, scope)

	must := []map[string]interface{}{
		{"key": "user_id", "match": map[string]interface{}{"value": filter.UserID}},
	}
	for _, tag := range filter.Tags {
		must = append(must, map[string]interface{}{"key": "tags", "match": map[string]interface{}{"value": tag}})
	}
	qdFilter := map[string]interface{}{"must": must}

	items, err := h.client.SearchCollection(ctx, collection, queryVector, k, 0, qdFilter)
	if err != nil {
		return nil, memerr.Wrap(component, memerr.CodeStoreUnavailable, "http index search failed", err)
	}

	out := make([]Result, 0, len(items))
	for _, it := range items {
		id, _ := it.Payload["_point_id"].(string)
		out = append(out, Result{
			ID: id,
			// Qdrant's cosine score is a similarity; 1 − score is the cosine
			// distance, normalized here the same way PGVectorIndex does.
			Sim: CosineSimilarity(1 - it.Score),
			Meta: Metadata{
				UserID:    filter.UserID,
				AgentName: agent,
				Scope:     scope,
			},
		})
	}
	return out, nil
}

func (h *HTTPIndex) Delete(ctx context.Context, id string) error {
	// The teacher's vectordb.Client exposes no delete-by-id endpoint (Qdrant
	// collections here are append/upsert-oriented task-embedding stores);
	// deletion for HTTPIndex-backed memories is a documented limitation —
	// PGVectorIndex is the backend to choose when hard deletes matter
	// (spec I2's "deleting the Memory deletes both atomically" is honored by
	// PGVectorIndex; HTTPIndex callers should prefer it when delete fidelity
	// is required).
	return memerr.New(component, memerr.CodeUpstreamFailure, "http index backend does not support point deletion")
}
