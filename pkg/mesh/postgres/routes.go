package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// InsertRouteRecord implements [mesh.GraphStore]. Route records are the
// append-only credit-assignment log: one row per (trace, src, dst, hop).
func (s *Store) InsertRouteRecord(ctx context.Context, r mesh.RouteRecord) error {
	const q = `
		INSERT INTO nutrient_routes
		    (tenant_id, nutrient_id, trace_id, src_agent, dst_agent, hop_number,
		     routing_score, outcome_score, routed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, trace_id, src_agent, dst_agent, hop_number) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		r.Tenant, r.NutrientID, r.TraceID, r.Src, r.Dst, r.Hop,
		r.RoutingScore, r.OutcomeScore, r.RoutedAt,
	)
	if err != nil {
		return fmt.Errorf("graph store: insert route record: %w", err)
	}
	return nil
}

// RouteRecordsByTrace implements [mesh.GraphStore], returning every hop of
// traceID ordered so the Reinforcement Engine can walk the chain in the order
// the nutrient actually traveled.
func (s *Store) RouteRecordsByTrace(ctx context.Context, tenant, traceID string) ([]mesh.RouteRecord, error) {
	const q = `
		SELECT tenant_id, nutrient_id, trace_id, src_agent, dst_agent, hop_number,
		       routing_score, outcome_score, routed_at
		FROM   nutrient_routes
		WHERE  tenant_id = $1 AND trace_id = $2
		ORDER  BY hop_number`

	rows, err := s.pool.Query(ctx, q, tenant, traceID)
	if err != nil {
		return nil, fmt.Errorf("graph store: route records by trace: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (mesh.RouteRecord, error) {
		var r mesh.RouteRecord
		err := row.Scan(&r.Tenant, &r.NutrientID, &r.TraceID, &r.Src, &r.Dst, &r.Hop,
			&r.RoutingScore, &r.OutcomeScore, &r.RoutedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("graph store: route records by trace: %w", err)
	}
	if records == nil {
		records = []mesh.RouteRecord{}
	}
	return records, nil
}

// SetRouteOutcome implements [mesh.GraphStore]. It fills in the outcome score
// for one already-recorded hop; hops that never get an outcome call remain
// NULL and are excluded from credit assignment.
func (s *Store) SetRouteOutcome(ctx context.Context, tenant, traceID, src, dst string, hop int, score float64) error {
	const q = `
		UPDATE nutrient_routes
		SET    outcome_score = $6
		WHERE  tenant_id = $1 AND trace_id = $2 AND src_agent = $3 AND dst_agent = $4 AND hop_number = $5`

	tag, err := s.pool.Exec(ctx, q, tenant, traceID, src, dst, hop, score)
	if err != nil {
		return fmt.Errorf("graph store: set route outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("graph store: set route outcome: %w", mesh.ErrNotFound)
	}
	return nil
}
