package routing

import "github.com/mycelialmesh/meshcore/pkg/mesh"

// scored pairs a neighbor profile with its precomputed score.
type scored struct {
	profile mesh.NeighborProfile
	score   Score
}

// mmrSelect applies Maximum Marginal Relevance to pick k items from
// candidates, balancing relevance (score.Total) against diversity (minimum
// cosine similarity to already-selected profile embeddings). The pairwise
// similarity matrix is computed once up front rather than recomputed inside
// the selection loop.
//
// candidates must already be sorted by descending score.Total; the first
// pick is always candidates[0].
func mmrSelect(candidates []scored, k int, lambda float64) []scored {
	if k <= 0 {
		return nil
	}
	if len(candidates) <= k {
		return candidates
	}

	n := len(candidates)
	simMatrix := make([][]float64, n)
	for i := range simMatrix {
		simMatrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := CosineSimilarity(candidates[i].profile.ProfileEmbedding, candidates[j].profile.ProfileEmbedding)
			simMatrix[i][j] = s
			simMatrix[j][i] = s
		}
	}

	selectedIdx := []int{0}
	selected := []scored{candidates[0]}
	remaining := make([]int, 0, n-1)
	for i := 1; i < n; i++ {
		remaining = append(remaining, i)
	}

	for len(selected) < k && len(remaining) > 0 {
		bestPos := -1
		bestMMR := 0.0
		for pos, idx := range remaining {
			minSim := 1.0
			for _, si := range selectedIdx {
				if simMatrix[idx][si] < minSim {
					minSim = simMatrix[idx][si]
				}
			}
			mmr := lambda*candidates[idx].score.Total - (1-lambda)*minSim
			if bestPos == -1 || mmr > bestMMR {
				bestPos = pos
				bestMMR = mmr
			}
		}
		chosen := remaining[bestPos]
		selected = append(selected, candidates[chosen])
		selectedIdx = append(selectedIdx, chosen)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return selected
}
