package domain

// MatchType labels how an expense/candidate pair matched.
type MatchType string

const (
	MatchExact          MatchType = "exact"
	MatchAmountDate     MatchType = "amount_date"
	MatchAmountMerchant MatchType = "amount_merchant"
	MatchAmountOnly     MatchType = "amount_only"
	MatchTipAdjusted    MatchType = "tip_adjusted"

	// MatchHuman marks a match pinned by a human reviewer. Never produced
	// by the scorer; recorded when a review resolution supplies the match.
	MatchHuman MatchType = "human"
)

// MatchResult is the score for one (expense, candidate) pair. Candidates
// that fail every row of the scoring table get no MatchResult at all.
type MatchResult struct {
	CandidateID string    `json:"candidateId"`
	Score       int       `json:"score"` // 0-100
	Type        MatchType `json:"type"`

	// DaysDifference is the absolute gap between the expense date and the
	// candidate's posting date, in days.
	DaysDifference float64 `json:"daysDifference"`

	// DateInverted is true when the match was found by retrying with the
	// expense's day and month swapped (DD/MM vs MM/DD feed confusion).
	// The audit trail records the implied date correction.
	DateInverted bool `json:"dateInverted,omitempty"`
}

// ResolutionKind is the terminal state of multi-match resolution.
type ResolutionKind string

const (
	ResolutionUnique    ResolutionKind = "unique"
	ResolutionAmbiguous ResolutionKind = "ambiguous"
	ResolutionNone      ResolutionKind = "none"
)

// ResolvedMatch is the authoritative match state passed downstream.
type ResolvedMatch struct {
	Kind ResolutionKind `json:"kind"`

	// Best is set for ResolutionUnique.
	Best *MatchResult `json:"best,omitempty"`

	// Candidates holds the full qualifying list, sorted by
	// (score desc, daysDifference asc), for ResolutionAmbiguous so a human
	// can disambiguate. Empty otherwise.
	Candidates []MatchResult `json:"candidates,omitempty"`

	// TopScore is the highest qualifying score, 0 for ResolutionNone.
	TopScore int `json:"topScore"`
}

// NoMatch returns a ResolvedMatch representing no qualifying candidate.
func NoMatch() ResolvedMatch {
	return ResolvedMatch{Kind: ResolutionNone}
}
