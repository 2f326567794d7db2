package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// InsertMemory implements [mesh.HyphalMemoryStore].
func (s *Store) InsertMemory(ctx context.Context, m mesh.HyphalMemory) error {
	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("hyphal memory: marshal content: %w", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("hyphal memory: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO hyphal_memory
		    (id, tenant_id, agent_id, kind, content, embedding, quality,
		     sensitivity, task_id, trace_id, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
		    agent_id    = EXCLUDED.agent_id,
		    kind        = EXCLUDED.kind,
		    content     = EXCLUDED.content,
		    embedding   = EXCLUDED.embedding,
		    quality     = EXCLUDED.quality,
		    sensitivity = EXCLUDED.sensitivity,
		    task_id     = EXCLUDED.task_id,
		    trace_id    = EXCLUDED.trace_id,
		    metadata    = EXCLUDED.metadata,
		    expires_at  = EXCLUDED.expires_at`

	_, err = s.pool.Exec(ctx, q,
		m.ID, m.Tenant, m.AgentID, m.Kind, contentJSON,
		pgvector.NewVector(m.Embedding), m.Quality, string(m.Sensitivity),
		m.TaskID, m.TraceID, metaJSON, m.CreatedAt, m.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("hyphal memory: insert: %w", err)
	}
	return nil
}

// GetMemory implements [mesh.HyphalMemoryStore].
func (s *Store) GetMemory(ctx context.Context, tenant, id string) (*mesh.HyphalMemory, error) {
	const q = `
		SELECT id, tenant_id, agent_id, kind, content, embedding, quality,
		       sensitivity, task_id, trace_id, metadata, created_at, expires_at
		FROM   hyphal_memory
		WHERE  tenant_id = $1 AND id = $2`

	rows, err := s.pool.Query(ctx, q, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("hyphal memory: get: %w", err)
	}
	memories, err := collectMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("hyphal memory: get: %w", err)
	}
	if len(memories) == 0 {
		return nil, nil
	}
	return &memories[0], nil
}

// DeleteMemory implements [mesh.HyphalMemoryStore]. Deleting a non-existent
// memory is not an error.
func (s *Store) DeleteMemory(ctx context.Context, tenant, id string) error {
	const q = `DELETE FROM hyphal_memory WHERE tenant_id = $1 AND id = $2`
	if _, err := s.pool.Exec(ctx, q, tenant, id); err != nil {
		return fmt.Errorf("hyphal memory: delete: %w", err)
	}
	return nil
}

// ListMemoriesByAgent implements [mesh.HyphalMemoryStore].
func (s *Store) ListMemoriesByAgent(ctx context.Context, tenant, agentID string) ([]mesh.HyphalMemory, error) {
	const q = `
		SELECT id, tenant_id, agent_id, kind, content, embedding, quality,
		       sensitivity, task_id, trace_id, metadata, created_at, expires_at
		FROM   hyphal_memory
		WHERE  tenant_id = $1 AND agent_id = $2
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, tenant, agentID)
	if err != nil {
		return nil, fmt.Errorf("hyphal memory: list by agent: %w", err)
	}
	return collectMemories(rows)
}

// SearchMemories implements [mesh.HyphalMemoryStore]. It finds the topK
// non-expired memories whose embeddings are closest (cosine distance) to
// embedding, subject to filter, ordered by ascending distance.
func (s *Store) SearchMemories(ctx context.Context, tenant string, embedding []float32, topK int, filter mesh.MemorySearchFilter, now time.Time) ([]mesh.MemorySearchResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{tenant, queryVec, now}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"tenant_id = $1",
		"(expires_at IS NULL OR expires_at > $3)",
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = "+next(filter.Kind))
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = "+next(filter.AgentID))
	}
	if filter.MinQuality > 0 {
		conditions = append(conditions, "quality >= "+next(filter.MinQuality))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, tenant_id, agent_id, kind, content, embedding, quality,
		       sensitivity, task_id, trace_id, metadata, created_at, expires_at,
		       embedding <=> $2 AS distance
		FROM   hyphal_memory
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("hyphal memory: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (mesh.MemorySearchResult, error) {
		var (
			r           mesh.MemorySearchResult
			vec         pgvector.Vector
			contentJSON []byte
			metaJSON    []byte
			sensitivity string
			distance    float64
		)
		if err := row.Scan(
			&r.Memory.ID, &r.Memory.Tenant, &r.Memory.AgentID, &r.Memory.Kind,
			&contentJSON, &vec, &r.Memory.Quality, &sensitivity,
			&r.Memory.TaskID, &r.Memory.TraceID, &metaJSON,
			&r.Memory.CreatedAt, &r.Memory.ExpiresAt, &distance,
		); err != nil {
			return mesh.MemorySearchResult{}, err
		}
		r.Memory.Embedding = vec.Slice()
		r.Memory.Sensitivity = mesh.Sensitivity(sensitivity)
		r.Similarity = 1 - distance
		if err := json.Unmarshal(contentJSON, &r.Memory.Content); err != nil {
			return mesh.MemorySearchResult{}, fmt.Errorf("unmarshal content: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Memory.Metadata); err != nil {
				return mesh.MemorySearchResult{}, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("hyphal memory: search: %w", err)
	}
	if results == nil {
		results = []mesh.MemorySearchResult{}
	}
	return results, nil
}

// CleanupExpiredMemories implements [mesh.HyphalMemoryStore].
func (s *Store) CleanupExpiredMemories(ctx context.Context, tenant string, now time.Time) (int, error) {
	const q = `DELETE FROM hyphal_memory WHERE tenant_id = $1 AND expires_at IS NOT NULL AND expires_at <= $2`
	tag, err := s.pool.Exec(ctx, q, tenant, now)
	if err != nil {
		return 0, fmt.Errorf("hyphal memory: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectMemories(rows pgx.Rows) ([]mesh.HyphalMemory, error) {
	memories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (mesh.HyphalMemory, error) {
		var (
			m           mesh.HyphalMemory
			vec         pgvector.Vector
			contentJSON []byte
			metaJSON    []byte
			sensitivity string
		)
		if err := row.Scan(
			&m.ID, &m.Tenant, &m.AgentID, &m.Kind, &contentJSON, &vec, &m.Quality,
			&sensitivity, &m.TaskID, &m.TraceID, &metaJSON, &m.CreatedAt, &m.ExpiresAt,
		); err != nil {
			return mesh.HyphalMemory{}, err
		}
		m.Embedding = vec.Slice()
		m.Sensitivity = mesh.Sensitivity(sensitivity)
		if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
			return mesh.HyphalMemory{}, fmt.Errorf("unmarshal content: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return mesh.HyphalMemory{}, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []mesh.HyphalMemory{}
	}
	return memories, nil
}
