package match

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resolver picks a winner among qualifying match results or declares
// ambiguity.
type Resolver struct {
	// ambiguityDelta is the score gap within which the top two candidates
	// are considered truly ambiguous. Outside it, one candidate dominates
	// and wins even though several passed the qualifying floor — forcing a
	// human review merely because two candidates technically qualified
	// would drown the review queue.
	ambiguityDelta int
}

// NewResolver creates a resolver with the given ambiguity delta.
func NewResolver(ambiguityDelta int) *Resolver {
	return &Resolver{ambiguityDelta: ambiguityDelta}
}

// Resolve turns qualifying results into the authoritative match state.
func (r *Resolver) Resolve(results []domain.MatchResult) domain.ResolvedMatch {
	switch len(results) {
	case 0:
		return domain.NoMatch()
	case 1:
		return domain.ResolvedMatch{
			Kind:     domain.ResolutionUnique,
			Best:     &results[0],
			TopScore: results[0].Score,
		}
	}

	sorted := make([]domain.MatchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].DaysDifference < sorted[j].DaysDifference
	})

	if sorted[0].Score-sorted[1].Score <= r.ambiguityDelta {
		// Near-equal top scores: carry the full ordered list downstream
		// for human disambiguation.
		return domain.ResolvedMatch{
			Kind:       domain.ResolutionAmbiguous,
			Candidates: sorted,
			TopScore:   sorted[0].Score,
		}
	}

	return domain.ResolvedMatch{
		Kind:     domain.ResolutionUnique,
		Best:     &sorted[0],
		TopScore: sorted[0].Score,
	}
}
