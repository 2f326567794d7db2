package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// InsertNutrient implements [mesh.GraphStore]. Nutrients are append-only:
// once broadcast, a nutrient row is never updated, only read until it expires
// or its hop budget is exhausted.
func (s *Store) InsertNutrient(ctx context.Context, n mesh.Nutrient) error {
	snippetsJSON, err := json.Marshal(n.Snippets)
	if err != nil {
		return fmt.Errorf("graph store: marshal snippets: %w", err)
	}
	hintsJSON, err := json.Marshal(n.ToolHints)
	if err != nil {
		return fmt.Errorf("graph store: marshal tool hints: %w", err)
	}

	const q = `
		INSERT INTO nutrients_active
		    (id, tenant_id, trace_id, source_agent, summary, embedding, snippets,
		     tool_hints, sensitivity, current_hop, max_hops, ttl_seconds,
		     quota_cost, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		n.ID, n.Tenant, n.TraceID, n.SourceAgent, n.Summary,
		pgvector.NewVector(n.Embedding), snippetsJSON, hintsJSON,
		string(n.Sensitivity), n.CurrentHop, n.MaxHops, n.TTLSeconds,
		n.QuotaCost, n.CreatedAt, n.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("graph store: insert nutrient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("graph store: insert nutrient: %w", mesh.ErrDuplicateID)
	}
	return nil
}
