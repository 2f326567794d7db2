package routing

import (
	"math/rand"
	"sort"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// Options configures [Route]. Zero value resolves to the package defaults.
type Options struct {
	TopK        int
	Diversify   bool
	Threshold   float64
	MMRLambda   float64
	Epsilon     float64
	Rand        *rand.Rand // nil uses a package-level source seeded once at startup
}

func (o Options) resolve() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThresholdMin
	}
	if o.MMRLambda <= 0 {
		o.MMRLambda = DefaultMMRLambda
	}
	if o.Epsilon <= 0 {
		o.Epsilon = DefaultEpsilon
	}
	if o.Rand == nil {
		o.Rand = defaultRand
	}
	return o
}

var defaultRand = rand.New(rand.NewSource(1))

// Result is one selected neighbor paired with the score that earned its
// selection.
type Result struct {
	AgentID string
	Score   Score
}

// Route scores every neighbor against the nutrient embedding and tool hints,
// then selects up to opts.TopK via threshold filtering, optional MMR
// diversity, and ε-greedy exploration.
//
// Returns a [*DimensionError] if nutrientEmbedding is not
// [mesh.EmbeddingDim]-dimensional.
func Route(nutrientEmbedding []float32, hints []string, neighbors []mesh.NeighborProfile, opts Options) ([]Result, error) {
	if len(nutrientEmbedding) != mesh.EmbeddingDim {
		return nil, &DimensionError{Got: len(nutrientEmbedding)}
	}
	opts = opts.resolve()

	var above, below []scored
	for _, n := range neighbors {
		sc := ScoreNeighbor(nutrientEmbedding, hints, n)
		item := scored{profile: n, score: sc}
		if sc.Total >= opts.Threshold {
			above = append(above, item)
		} else {
			below = append(below, item)
		}
	}

	sort.SliceStable(above, func(i, j int) bool { return above[i].score.Total > above[j].score.Total })

	var selected []scored
	if opts.Diversify && len(above) > opts.TopK {
		selected = mmrSelect(above, opts.TopK, opts.MMRLambda)
	} else {
		n := opts.TopK
		if n > len(above) {
			n = len(above)
		}
		selected = append(selected, above[:n]...)
	}

	if opts.Epsilon > 0 && len(selected) > 0 && len(below) > 0 && opts.Rand.Float64() < opts.Epsilon {
		lowestIdx := 0
		lowest := selected[0].score.Total
		for i, s := range selected {
			if s.score.Total < lowest {
				lowest, lowestIdx = s.score.Total, i
			}
		}
		explore := below[opts.Rand.Intn(len(below))]
		selected[lowestIdx] = explore
	}

	results := make([]Result, len(selected))
	for i, s := range selected {
		results[i] = Result{AgentID: s.profile.AgentID, Score: s.score}
	}
	return results, nil
}
