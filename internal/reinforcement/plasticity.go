// Package reinforcement implements the Reinforcement Engine (component E):
// the synaptic-plasticity edge-weight update rule, outcome-driven credit
// assignment across a traversed route, and a background time-decay task
// that prunes stale edges. The background task's cancellable-goroutine +
// sync.Once shutdown idiom is grounded on the teacher's internal/app.App.Run
// / Shutdown pair; Engine.Credit fans a trace's edges out concurrently with
// errgroup and runs each one's WithEdgeTx call through a shared
// internal/resilience.CircuitBreaker, so a failing store trips the breaker
// instead of every edge hammering it in turn.
package reinforcement

import (
	"fmt"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// Plasticity tuning defaults, per spec §4.E.
const (
	DefaultAlphaPos  = 0.08
	DefaultAlphaNeg  = 0.04
	DefaultLambdaDecay = 0.002

	defaultBornWeight = 0.1
)

// PlasticityParams holds the tunables of the update rule. Zero value
// resolves to the package defaults via [PlasticityParams.resolve].
type PlasticityParams struct {
	AlphaPos   float64
	AlphaNeg   float64
	LambdaDecay float64
}

func (p PlasticityParams) resolve() PlasticityParams {
	if p.AlphaPos == 0 {
		p.AlphaPos = DefaultAlphaPos
	}
	if p.AlphaNeg == 0 {
		p.AlphaNeg = DefaultAlphaNeg
	}
	if p.LambdaDecay == 0 {
		p.LambdaDecay = DefaultLambdaDecay
	}
	return p
}

// ApplyPlasticity computes the next edge state from current (nil means the
// edge does not exist yet and is born at weight [defaultBornWeight]) given
// an outcome score o in [0,1], per spec §4.E:
//
//	Δ  = α_pos·o − α_neg·(1−o) − λ_decay
//	w' = clamp(w + Δ, MinEdgeWeight, MaxEdgeWeight)
//
// λ_decay is always applied, even on a perfect outcome — a small
// housekeeping cost is paid on every credited event. r_success and r_decay
// are monotone accumulators: r_success += o, r_decay += 1 − o.
func ApplyPlasticity(current *mesh.Edge, src, dst string, similarity, o float64, hop int, params PlasticityParams) (mesh.Edge, mesh.EdgeUpdate) {
	params = params.resolve()

	base := mesh.Edge{
		Src:        src,
		Dst:        dst,
		Weight:     defaultBornWeight,
		Similarity: similarity,
	}
	if current != nil {
		base = *current
	}

	delta := params.AlphaPos*o - params.AlphaNeg*(1-o) - params.LambdaDecay
	newWeight := clamp(base.Weight+delta, mesh.MinEdgeWeight, mesh.MaxEdgeWeight)

	next := base
	next.Weight = newWeight
	next.RSuccess = base.RSuccess + o
	next.RDecay = base.RDecay + (1 - o)

	update := mesh.EdgeUpdate{
		Src:       src,
		Dst:       dst,
		OldWeight: base.Weight,
		NewWeight: newWeight,
		Delta:     delta,
		Hop:       hop,
		HopScore:  o,
	}
	return next, update
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// validateOutcomeScore reports an error if score is outside [0,1].
func validateOutcomeScore(score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("reinforcement: outcome score must be in [0,1], got %v", score)
	}
	return nil
}
