package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// UpsertAgent implements [mesh.GraphStore]. It inserts or completely replaces
// the agent row keyed by (tenant_id, id).
func (s *Store) UpsertAgent(ctx context.Context, a mesh.Agent) error {
	capsJSON, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("graph store: marshal capabilities: %w", err)
	}
	toolsJSON, err := json.Marshal(a.Tools)
	if err != nil {
		return fmt.Errorf("graph store: marshal tools: %w", err)
	}
	tasksJSON, err := json.Marshal(a.RecentTasks)
	if err != nil {
		return fmt.Errorf("graph store: marshal recent tasks: %w", err)
	}
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("graph store: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO agents
		    (tenant_id, id, name, capabilities, tools, profile, recent_tasks,
		     status, region, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (tenant_id, id) DO UPDATE SET
		    name         = EXCLUDED.name,
		    capabilities = EXCLUDED.capabilities,
		    tools        = EXCLUDED.tools,
		    profile      = EXCLUDED.profile,
		    recent_tasks = EXCLUDED.recent_tasks,
		    status       = EXCLUDED.status,
		    region       = EXCLUDED.region,
		    metadata     = EXCLUDED.metadata,
		    updated_at   = now()`

	_, err = s.pool.Exec(ctx, q,
		a.Tenant, a.ID, a.Name, capsJSON, toolsJSON,
		pgvector.NewVector(a.ProfileEmbedding), tasksJSON,
		string(a.Status), a.Region, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("graph store: upsert agent: %w", err)
	}
	return nil
}

// GetAgent implements [mesh.GraphStore]. Returns (nil, nil) when the agent
// does not exist within tenant.
func (s *Store) GetAgent(ctx context.Context, tenant, agentID string) (*mesh.Agent, error) {
	const q = `
		SELECT tenant_id, id, name, capabilities, tools, profile, recent_tasks,
		       status, region, metadata, created_at, updated_at
		FROM   agents
		WHERE  tenant_id = $1 AND id = $2`

	rows, err := s.pool.Query(ctx, q, tenant, agentID)
	if err != nil {
		return nil, fmt.Errorf("graph store: get agent: %w", err)
	}
	agents, err := collectAgents(rows)
	if err != nil {
		return nil, fmt.Errorf("graph store: get agent: %w", err)
	}
	if len(agents) == 0 {
		return nil, nil
	}
	return &agents[0], nil
}

// ListAgents implements [mesh.GraphStore].
func (s *Store) ListAgents(ctx context.Context, tenant string, filter mesh.AgentFilter) ([]mesh.Agent, error) {
	args := []any{tenant}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"tenant_id = $1"}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+next(string(filter.Status)))
	}
	if filter.Capability != "" {
		conditions = append(conditions, "capabilities @> "+next(mustJSON([]string{filter.Capability}))+"::jsonb")
	}

	q := `SELECT tenant_id, id, name, capabilities, tools, profile, recent_tasks,
	             status, region, metadata, created_at, updated_at
	      FROM   agents
	      WHERE  ` + strings.Join(conditions, "\n  AND ") + `
	      ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph store: list agents: %w", err)
	}
	return collectAgents(rows)
}

// DeleteAgent implements [mesh.GraphStore]. Deleting a non-existent agent is
// not an error.
func (s *Store) DeleteAgent(ctx context.Context, tenant, agentID string) error {
	const q = `DELETE FROM agents WHERE tenant_id = $1 AND id = $2`
	if _, err := s.pool.Exec(ctx, q, tenant, agentID); err != nil {
		return fmt.Errorf("graph store: delete agent: %w", err)
	}
	return nil
}

// RecordAgentTask implements [mesh.GraphStore]. It appends task to the
// agent's recent-task window, trimming to [mesh.RecentTaskWindow] entries.
func (s *Store) RecordAgentTask(ctx context.Context, tenant, agentID, task string) error {
	const q = `
		UPDATE agents
		SET    recent_tasks = (
		           SELECT jsonb_agg(t ORDER BY n)
		           FROM (
		               SELECT t, n
		               FROM   jsonb_array_elements_text(recent_tasks || to_jsonb($3::text))
		                      WITH ORDINALITY AS e(t, n)
		               ORDER  BY n DESC
		               LIMIT  $4
		           ) sub
		       ),
		       updated_at = now()
		WHERE  tenant_id = $1 AND id = $2`

	tag, err := s.pool.Exec(ctx, q, tenant, agentID, task, mesh.RecentTaskWindow)
	if err != nil {
		return fmt.Errorf("graph store: record agent task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("graph store: record agent task: %w", mesh.ErrNotFound)
	}
	return nil
}

func collectAgents(rows pgx.Rows) ([]mesh.Agent, error) {
	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (mesh.Agent, error) {
		var (
			a         mesh.Agent
			capsJSON  []byte
			toolsJSON []byte
			tasksJSON []byte
			metaJSON  []byte
			status    string
			vec       pgvector.Vector
		)
		if err := row.Scan(
			&a.Tenant, &a.ID, &a.Name, &capsJSON, &toolsJSON, &vec, &tasksJSON,
			&status, &a.Region, &metaJSON, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return mesh.Agent{}, err
		}
		a.Status = mesh.AgentStatus(status)
		a.ProfileEmbedding = vec.Slice()
		if err := json.Unmarshal(capsJSON, &a.Capabilities); err != nil {
			return mesh.Agent{}, fmt.Errorf("unmarshal capabilities: %w", err)
		}
		if err := json.Unmarshal(toolsJSON, &a.Tools); err != nil {
			return mesh.Agent{}, fmt.Errorf("unmarshal tools: %w", err)
		}
		if err := json.Unmarshal(tasksJSON, &a.RecentTasks); err != nil {
			return mesh.Agent{}, fmt.Errorf("unmarshal recent tasks: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
				return mesh.Agent{}, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		if a.Metadata == nil {
			a.Metadata = map[string]any{}
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []mesh.Agent{}
	}
	return agents, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only called with values this package controls; a marshal failure
		// here indicates a programmer error, not a runtime condition.
		panic(fmt.Sprintf("graph store: marshal: %v", err))
	}
	return string(b)
}
