// Package confidence combines match quality with receipt signals into a
// single 0-100 confidence score.
package confidence

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Base scores by match type. A human-pinned match is as trustworthy as an
// exact one; no match at all still carries a floor of 50 — absence of a
// bank record is uncertainty, not evidence of fraud.
var baseScores = map[domain.MatchType]int{
	domain.MatchExact:          100,
	domain.MatchHuman:          100,
	domain.MatchAmountDate:     95,
	domain.MatchAmountMerchant: 90,
	domain.MatchTipAdjusted:    75,
	domain.MatchAmountOnly:     70,
}

const noMatchBase = 50

// Scorer computes confidence from a resolved match and the receipt signal.
type Scorer struct {
	cfg domain.EngineConfig
}

// NewScorer creates a confidence scorer with the given engine configuration.
func NewScorer(cfg domain.EngineConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Compute derives the confidence score. Deductions apply additively and the
// result clamps to [0, 100]. Merchant-name noise and bank-descriptor
// boilerplate get no deduction here: the matcher already absorbed that, and
// penalizing it again would just stack redundant penalty layers.
func (s *Scorer) Compute(exp *domain.ExpenseRecord, match domain.ResolvedMatch, receipt domain.ReceiptSignal, jurisdiction domain.JurisdictionResult) int {
	score := noMatchBase
	if match.Kind == domain.ResolutionUnique && match.Best != nil {
		if base, ok := baseScores[match.Best.Type]; ok {
			score = base
		}
	}

	switch {
	case !receipt.Present:
		score -= s.cfg.DeductMissingReceipt
	case receipt.ExtractionFailed:
		score -= s.cfg.DeductUnreadableReceipt
	case receipt.ExtractedAmount != nil:
		diff := receipt.ExtractedAmount.Sub(exp.Amount).Abs()
		if diff.Cmp(s.cfg.ReceiptAmountTolerance) > 0 {
			score -= s.cfg.DeductAmountMismatch
		}
	}

	if jurisdiction.WasAmbiguous {
		score -= s.cfg.AmbiguousJurisdictionPenalty
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
