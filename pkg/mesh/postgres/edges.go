package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// OutEdges implements [mesh.GraphStore].
func (s *Store) OutEdges(ctx context.Context, tenant, agentID string, opts ...mesh.EdgeQueryOpt) ([]mesh.Edge, error) {
	orderByWeight, limit, minWeight := mesh.ApplyEdgeQueryOpts(opts)

	q := `SELECT tenant_id, src, dst, weight, similarity, r_success, r_decay, last_update
	      FROM   hyphae_edges
	      WHERE  tenant_id = $1 AND src = $2 AND weight >= $3`
	args := []any{tenant, agentID, minWeight}

	if orderByWeight {
		q += " ORDER BY weight DESC"
	} else {
		q += " ORDER BY dst"
	}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph store: out edges: %w", err)
	}
	return collectEdges(rows)
}

// AgentProfiles implements [mesh.GraphStore]. It left-joins the candidate
// agents against src's outbound edges so a neighbor with no edge yet (first
// contact) is still returned, with EdgeWeight/BaseSimilarity left at zero.
func (s *Store) AgentProfiles(ctx context.Context, tenant, src string, ids []string) ([]mesh.NeighborProfile, error) {
	if len(ids) == 0 {
		return []mesh.NeighborProfile{}, nil
	}

	const q = `
		SELECT a.id, a.profile, a.capabilities, a.recent_tasks,
		       COALESCE(e.weight, 0), COALESCE(e.similarity, 0)
		FROM   agents a
		LEFT   JOIN hyphae_edges e
		       ON  e.tenant_id = a.tenant_id AND e.src = $2 AND e.dst = a.id
		WHERE  a.tenant_id = $1 AND a.id = ANY($3)`

	rows, err := s.pool.Query(ctx, q, tenant, src, ids)
	if err != nil {
		return nil, fmt.Errorf("graph store: agent profiles: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (mesh.NeighborProfile, error) {
		var (
			p         mesh.NeighborProfile
			vec       pgvector.Vector
			capsJSON  []byte
			tasksJSON []byte
		)
		if err := row.Scan(&p.AgentID, &vec, &capsJSON, &tasksJSON, &p.EdgeWeight, &p.BaseSimilarity); err != nil {
			return mesh.NeighborProfile{}, err
		}
		p.ProfileEmbedding = vec.Slice()
		if err := json.Unmarshal(capsJSON, &p.Capabilities); err != nil {
			return mesh.NeighborProfile{}, err
		}
		if err := json.Unmarshal(tasksJSON, &p.RecentTasks); err != nil {
			return mesh.NeighborProfile{}, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph store: agent profiles: %w", err)
	}
	if profiles == nil {
		profiles = []mesh.NeighborProfile{}
	}
	return profiles, nil
}

// GetEdge implements [mesh.GraphStore].
func (s *Store) GetEdge(ctx context.Context, tenant, src, dst string) (*mesh.Edge, error) {
	const q = `
		SELECT tenant_id, src, dst, weight, similarity, r_success, r_decay, last_update
		FROM   hyphae_edges
		WHERE  tenant_id = $1 AND src = $2 AND dst = $3`

	var e mesh.Edge
	err := s.pool.QueryRow(ctx, q, tenant, src, dst).Scan(
		&e.Tenant, &e.Src, &e.Dst, &e.Weight, &e.Similarity, &e.RSuccess, &e.RDecay, &e.LastUpdate,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, mesh.ErrNotFound
		}
		return nil, fmt.Errorf("graph store: get edge: %w", err)
	}
	return &e, nil
}

// UpsertEdge implements [mesh.GraphStore].
func (s *Store) UpsertEdge(ctx context.Context, e mesh.Edge) error {
	const q = `
		INSERT INTO hyphae_edges
		    (tenant_id, src, dst, weight, similarity, r_success, r_decay, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, src, dst) DO UPDATE SET
		    weight      = EXCLUDED.weight,
		    similarity  = EXCLUDED.similarity,
		    r_success   = EXCLUDED.r_success,
		    r_decay     = EXCLUDED.r_decay,
		    last_update = EXCLUDED.last_update`

	lastUpdate := e.LastUpdate
	if lastUpdate.IsZero() {
		lastUpdate = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, q, e.Tenant, e.Src, e.Dst, e.Weight, e.Similarity, e.RSuccess, e.RDecay, lastUpdate)
	if err != nil {
		return fmt.Errorf("graph store: upsert edge: %w", err)
	}
	return nil
}

// DeleteEdge implements [mesh.GraphStore].
func (s *Store) DeleteEdge(ctx context.Context, tenant, src, dst string) error {
	const q = `DELETE FROM hyphae_edges WHERE tenant_id = $1 AND src = $2 AND dst = $3`
	if _, err := s.pool.Exec(ctx, q, tenant, src, dst); err != nil {
		return fmt.Errorf("graph store: delete edge: %w", err)
	}
	return nil
}

// WithEdgeTx implements [mesh.GraphStore]. It locks the edge row (if it
// exists) with SELECT ... FOR UPDATE inside a single transaction, hands the
// current value to fn, and persists whatever fn returns before committing —
// so concurrent credit events on the same edge serialize through Postgres's
// row lock rather than racing on a blind UPDATE ... SET weight = weight + delta.
func (s *Store) WithEdgeTx(ctx context.Context, tenant, src, dst string, fn func(current *mesh.Edge) (mesh.Edge, error)) (mesh.Edge, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mesh.Edge{}, fmt.Errorf("graph store: with edge tx: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		SELECT tenant_id, src, dst, weight, similarity, r_success, r_decay, last_update
		FROM   hyphae_edges
		WHERE  tenant_id = $1 AND src = $2 AND dst = $3
		FOR UPDATE`

	var current *mesh.Edge
	var e mesh.Edge
	err = tx.QueryRow(ctx, selectQ, tenant, src, dst).Scan(
		&e.Tenant, &e.Src, &e.Dst, &e.Weight, &e.Similarity, &e.RSuccess, &e.RDecay, &e.LastUpdate,
	)
	switch {
	case err == nil:
		current = &e
	case isNoRows(err):
		current = nil
	default:
		return mesh.Edge{}, fmt.Errorf("graph store: with edge tx: select: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return mesh.Edge{}, err
	}
	if next.LastUpdate.IsZero() {
		next.LastUpdate = time.Now().UTC()
	}
	next.Tenant, next.Src, next.Dst = tenant, src, dst

	const upsertQ = `
		INSERT INTO hyphae_edges
		    (tenant_id, src, dst, weight, similarity, r_success, r_decay, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, src, dst) DO UPDATE SET
		    weight      = EXCLUDED.weight,
		    similarity  = EXCLUDED.similarity,
		    r_success   = EXCLUDED.r_success,
		    r_decay     = EXCLUDED.r_decay,
		    last_update = EXCLUDED.last_update`

	if _, err := tx.Exec(ctx, upsertQ, next.Tenant, next.Src, next.Dst, next.Weight, next.Similarity, next.RSuccess, next.RDecay, next.LastUpdate); err != nil {
		return mesh.Edge{}, fmt.Errorf("graph store: with edge tx: upsert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mesh.Edge{}, fmt.Errorf("graph store: with edge tx: commit: %w", err)
	}
	return next, nil
}

// CountEdges implements [mesh.GraphStore].
func (s *Store) CountEdges(ctx context.Context, tenant string) (int, error) {
	const q = `SELECT count(*) FROM hyphae_edges WHERE tenant_id = $1`
	var n int
	if err := s.pool.QueryRow(ctx, q, tenant).Scan(&n); err != nil {
		return 0, fmt.Errorf("graph store: count edges: %w", err)
	}
	return n, nil
}

// EdgeStats implements [mesh.GraphStore].
func (s *Store) EdgeStats(ctx context.Context, tenant string) (mesh.EdgeStats, error) {
	const q = `
		SELECT count(*), COALESCE(avg(weight), 0), COALESCE(max(weight), 0), COALESCE(min(weight), 0)
		FROM   hyphae_edges
		WHERE  tenant_id = $1`

	var stats mesh.EdgeStats
	if err := s.pool.QueryRow(ctx, q, tenant).Scan(
		&stats.TotalEdges, &stats.MeanWeight, &stats.MaxWeight, &stats.MinWeight,
	); err != nil {
		return mesh.EdgeStats{}, fmt.Errorf("graph store: edge stats: %w", err)
	}
	return stats, nil
}

// TopEdges implements [mesh.GraphStore].
func (s *Store) TopEdges(ctx context.Context, tenant string, limit int, minWeight float64) ([]mesh.Edge, error) {
	const q = `
		SELECT tenant_id, src, dst, weight, similarity, r_success, r_decay, last_update
		FROM   hyphae_edges
		WHERE  tenant_id = $1 AND weight >= $2
		ORDER  BY weight DESC
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, tenant, minWeight, limit)
	if err != nil {
		return nil, fmt.Errorf("graph store: top edges: %w", err)
	}
	return collectEdges(rows)
}

// PruneEdges implements [mesh.GraphStore].
func (s *Store) PruneEdges(ctx context.Context, tenant string, threshold float64) (int, error) {
	const q = `DELETE FROM hyphae_edges WHERE tenant_id = $1 AND weight < $2`
	tag, err := s.pool.Exec(ctx, q, tenant, threshold)
	if err != nil {
		return 0, fmt.Errorf("graph store: prune edges: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ScanStaleEdges implements [mesh.GraphStore].
func (s *Store) ScanStaleEdges(ctx context.Context, cutoff time.Time, limit int) ([]mesh.Edge, error) {
	const q = `
		SELECT tenant_id, src, dst, weight, similarity, r_success, r_decay, last_update
		FROM   hyphae_edges
		WHERE  last_update < $1
		ORDER  BY last_update
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("graph store: scan stale edges: %w", err)
	}
	return collectEdges(rows)
}

func collectEdges(rows pgx.Rows) ([]mesh.Edge, error) {
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (mesh.Edge, error) {
		var e mesh.Edge
		err := row.Scan(&e.Tenant, &e.Src, &e.Dst, &e.Weight, &e.Similarity, &e.RSuccess, &e.RDecay, &e.LastUpdate)
		return e, err
	})
	if err != nil {
		return nil, err
	}
	if edges == nil {
		edges = []mesh.Edge{}
	}
	return edges, nil
}
