// Package routing implements the combined-score neighbor selection used to
// route a nutrient to the agents most likely to make use of it. Every
// function here is pure: no I/O, no locks, deterministic given its inputs
// (aside from the intentionally randomized ε-greedy step, which takes its
// randomness as an explicit parameter so callers can make it deterministic
// in tests).
package routing

import (
	"fmt"
	"math"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// Score threshold and tuning defaults.
const (
	DefaultThresholdMin        = 0.15
	DefaultCapabilityBoostUnit = 0.05
	MaxCapabilityBoostMatches  = 4
	DefaultTopK                = 3
	DefaultMMRLambda           = 0.5
	DefaultEpsilon             = 0.1
	FuzzyMatchThreshold        = 0.7
)

// Score is the per-neighbor combined score with its breakdown, mirroring
// what an operator needs to debug a routing decision.
type Score struct {
	AgentID          string
	Total            float64
	Similarity       float64
	EdgeWeight       float64
	DemandOverlap    float64
	CapabilityBoost  float64
	CapabilityMatch  bool
}

// DimensionError reports an embedding whose length does not match
// [mesh.EmbeddingDim].
type DimensionError struct {
	Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("routing: embedding must be %d-dimensional, got %d", mesh.EmbeddingDim, e.Got)
}

// CosineSimilarity computes cosine similarity between a and b, remapped from
// [-1,1] to [0,1]. Zero-norm vectors (either side) map to 0. a and b need not
// be the same length as [mesh.EmbeddingDim] — callers validate that
// separately — but must be the same length as each other.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := (dot/(math.Sqrt(normA)*math.Sqrt(normB)) + 1.0) / 2.0
	return clamp(sim, 0, 1)
}

// DemandOverlap returns the fraction of hints that match one of the
// neighbor's recent tasks, either exactly or via a fuzzy ratio of at least
// [FuzzyMatchThreshold]. Empty either side returns 0.
func DemandOverlap(hints, recentTasks []string) float64 {
	if len(hints) == 0 || len(recentTasks) == 0 {
		return 0
	}
	matched := 0
	for _, h := range hints {
		if matchesAny(h, recentTasks) {
			matched++
		}
	}
	return float64(matched) / float64(len(hints))
}

func matchesAny(hint string, tasks []string) bool {
	for _, t := range tasks {
		if hint == t {
			return true
		}
		if FuzzyRatio(hint, t) >= FuzzyMatchThreshold {
			return true
		}
	}
	return false
}

// CapabilityBoost returns 0.05 * min(|hints ∩ capabilities|, 4), and whether
// at least one hint matched a capability.
func CapabilityBoost(hints, capabilities []string) (boost float64, matched bool) {
	capSet := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = true
	}
	count := 0
	for _, h := range hints {
		if capSet[h] {
			count++
			matched = true
		}
	}
	if count > MaxCapabilityBoostMatches {
		count = MaxCapabilityBoostMatches
	}
	return DefaultCapabilityBoostUnit * float64(count), matched
}

// ScoreNeighbor computes the combined routing score for one neighbor, given
// the nutrient's embedding and tool hints.
//
// score = clamp(similarity * edge_weight * (0.5 + 0.5*demand_overlap) + capability_boost, 0, 2)
func ScoreNeighbor(nutrientEmbedding []float32, hints []string, n mesh.NeighborProfile) Score {
	similarity := CosineSimilarity(nutrientEmbedding, n.ProfileEmbedding)
	demand := DemandOverlap(hints, n.RecentTasks)
	boost, matched := CapabilityBoost(hints, n.Capabilities)

	base := similarity*n.EdgeWeight*(0.5+0.5*demand) + boost
	total := clamp(base, 0, 2)

	return Score{
		AgentID:         n.AgentID,
		Total:           total,
		Similarity:      similarity,
		EdgeWeight:      n.EdgeWeight,
		DemandOverlap:   demand,
		CapabilityBoost: boost,
		CapabilityMatch: matched,
	}
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
