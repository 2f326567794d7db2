package reinforcement

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mycelialmesh/meshcore/internal/resilience"
	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// ErrNoRoute is returned by [Engine.Credit] when no route records exist for
// the given trace id.
var ErrNoRoute = errors.New("reinforcement: no route records for trace")

// ErrInvalidOutcome is returned when a per-hop or uniform score falls
// outside [0,1].
var ErrInvalidOutcome = errors.New("reinforcement: invalid outcome score")

// Engine implements component E's credit-assignment path. The background
// decay task is implemented separately in decay.go so the two concerns
// (synchronous credit, asynchronous decay) can be tested and reasoned about
// independently, the way the teacher keeps CircuitBreaker and FallbackGroup
// in separate files within the same package.
type Engine struct {
	store   mesh.GraphStore
	params  PlasticityParams
	breaker *resilience.CircuitBreaker
}

// New builds an Engine over store with the given plasticity parameters
// (zero value resolves to package defaults).
func New(store mesh.GraphStore, params PlasticityParams) *Engine {
	return &Engine{
		store:  store,
		params: params.resolve(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "reinforcement.credit.edge_tx",
		}),
	}
}

// Credit applies outcome to every route record of outcome.TraceID, per
// spec §4.E:
//  1. fetch all route records for the trace;
//  2. if empty, return [ErrNoRoute];
//  3. for each record, resolve the effective score (per-hop override, else
//     the uniform score) and validate it is in [0,1];
//  4. read (or lazily create) the edge (src, dst) and apply the plasticity
//     rule under [mesh.GraphStore.WithEdgeTx], guarded by a shared
//     [resilience.CircuitBreaker] so a failing store trips the breaker
//     instead of every one of a trace's edges hammering it in turn;
//  5. persist the updated outcome_score on the route record;
//  6. return the list of updates applied.
//
// Steps 4-5 run concurrently across a trace's edges via errgroup — each
// (src, dst) pair is an independent critical section, the same
// fan-out-N-independent-operations shape the teacher uses errgroup for in
// internal/mcp/mcphost/calibrate.go. One edge's failure cancels the
// others' in-flight work rather than leaving them to finish uselessly.
func (e *Engine) Credit(ctx context.Context, tenant string, outcome mesh.Outcome) ([]mesh.EdgeUpdate, error) {
	records, err := e.store.RouteRecordsByTrace(ctx, tenant, outcome.TraceID)
	if err != nil {
		return nil, fmt.Errorf("reinforcement: credit: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRoute
	}

	updates := make([]*mesh.EdgeUpdate, len(records))
	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range records {
		i, rec := i, rec
		score, ok := outcome.EffectiveScore(rec.Dst)
		if !ok {
			continue
		}
		if err := validateOutcomeScore(score); err != nil {
			return nil, fmt.Errorf("%w: hop %d: %v", ErrInvalidOutcome, rec.Hop, err)
		}
		g.Go(func() error {
			update, err := e.creditEdge(gctx, tenant, rec, score)
			if err != nil {
				return err
			}
			updates[i] = update
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]mesh.EdgeUpdate, 0, len(records))
	for _, u := range updates {
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

// creditEdge applies the plasticity rule to one (src, dst) edge and
// persists its route outcome. Called concurrently across a trace's edges
// by [Engine.Credit]; the edge-level critical section runs through the
// shared circuit breaker so repeated WithEdgeTx failures open it.
func (e *Engine) creditEdge(ctx context.Context, tenant string, rec mesh.RouteRecord, score float64) (*mesh.EdgeUpdate, error) {
	var update mesh.EdgeUpdate
	err := e.breaker.Execute(func() error {
		_, txErr := e.store.WithEdgeTx(ctx, tenant, rec.Src, rec.Dst, func(current *mesh.Edge) (mesh.Edge, error) {
			similarity := 0.0
			if current != nil {
				similarity = current.Similarity
			}
			next, u := ApplyPlasticity(current, rec.Src, rec.Dst, similarity, score, rec.Hop, e.params)
			next.Tenant = tenant
			update = u
			return next, nil
		})
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("reinforcement: credit: apply edge tx %s->%s: %w", rec.Src, rec.Dst, err)
	}

	if err := e.store.SetRouteOutcome(ctx, tenant, rec.TraceID, rec.Src, rec.Dst, rec.Hop, score); err != nil {
		return nil, fmt.Errorf("reinforcement: credit: set route outcome: %w", err)
	}

	return &update, nil
}
