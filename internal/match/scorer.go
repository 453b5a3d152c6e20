// Package match scores bank transaction candidates against expenses and
// resolves multi-candidate ambiguity.
package match

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
)

// Match scores, per type. A candidate matching on amount, date, and
// merchant is certain; each missing signal drops the score a tier.
const (
	scoreExact          = 100
	scoreAmountDate     = 90
	scoreAmountMerchant = 80
	scoreTipAdjusted    = 75
	scoreAmountOnly     = 70
)

// Scorer computes match scores for (expense, candidate) pairs.
type Scorer struct {
	cfg domain.EngineConfig
}

// NewScorer creates a scorer with the given engine configuration.
func NewScorer(cfg domain.EngineConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score evaluates one candidate against one expense. The second return is
// false when the candidate fails every row of the scoring table: such
// candidates are excluded outright, not scored as zero.
func (s *Scorer) Score(exp *domain.ExpenseRecord, cand *domain.BankCandidate) (domain.MatchResult, bool) {
	return s.scoreAt(exp, cand, exp.Date, false)
}

func (s *Scorer) scoreAt(exp *domain.ExpenseRecord, cand *domain.BankCandidate, expenseDate time.Time, inverted bool) (domain.MatchResult, bool) {
	// Bank feeds disagree on sign conventions; compare magnitudes.
	candAmount := cand.Amount.Abs()

	amountDiff := candAmount.Sub(exp.Amount).Abs()
	amountMatch := amountDiff.Cmp(s.cfg.AmountTolerance) <= 0

	daysDiff := math.Abs(cand.Date.Sub(expenseDate).Hours() / 24)
	dateMatch := daysDiff <= float64(s.cfg.DateToleranceDays)

	merchantMatch := s.merchantMatch(exp, cand)

	result := domain.MatchResult{
		CandidateID:    cand.ID,
		DaysDifference: daysDiff,
		DateInverted:   inverted,
	}

	switch {
	case amountMatch && dateMatch && merchantMatch:
		result.Score, result.Type = scoreExact, domain.MatchExact
	case amountMatch && dateMatch:
		result.Score, result.Type = scoreAmountDate, domain.MatchAmountDate
	case amountMatch && merchantMatch:
		result.Score, result.Type = scoreAmountMerchant, domain.MatchAmountMerchant
	case amountMatch:
		result.Score, result.Type = scoreAmountOnly, domain.MatchAmountOnly
	case dateMatch && s.tipAdjusted(exp, candAmount):
		result.Score, result.Type = scoreTipAdjusted, domain.MatchTipAdjusted
	default:
		return domain.MatchResult{}, false
	}

	return result, true
}

// merchantMatch checks significant-word overlap in both directions:
// abbreviated bank descriptors and verbose merchant names each may contain
// the other's identifying token.
func (s *Scorer) merchantMatch(exp *domain.ExpenseRecord, cand *domain.BankCandidate) bool {
	bankText := cand.DescriptionRaw
	if cand.ExtractedVendor != "" {
		bankText += " " + cand.ExtractedVendor
	}

	expenseWords := normalize.SignificantWords(exp.MerchantNameRaw, s.cfg.MinWordLength)
	if normalize.ContainsAnyWord(bankText, expenseWords) {
		return true
	}

	vendorWords := normalize.SignificantWords(cand.ExtractedVendor, s.cfg.MinWordLength)
	return normalize.ContainsAnyWord(exp.MerchantNameRaw, vendorWords)
}

// tipAdjusted reports whether the candidate amount sits in the gratuity
// band above the expense amount. Card-settled tips inflate the posted
// amount beyond the receipt total by a predictable range.
func (s *Scorer) tipAdjusted(exp *domain.ExpenseRecord, candAmount decimal.Decimal) bool {
	if exp.Class != domain.ClassMeals {
		return false
	}
	if !exp.Amount.IsPositive() {
		return false
	}

	band := s.cfg.TipBandFor(exp.Class)
	ratio := candAmount.Div(exp.Amount)
	return ratio.Cmp(band.Low) >= 0 && ratio.Cmp(band.High) <= 0
}

// ScoreAll scores every candidate and returns the qualifying results
// (score at or above the configured floor). When nothing qualifies and the
// expense date could plausibly have suffered a DD/MM vs MM/DD inversion
// upstream, the candidates are rescored once against the swapped date;
// any match found that way is marked DateInverted for the audit trail.
func (s *Scorer) ScoreAll(exp *domain.ExpenseRecord, candidates []*domain.BankCandidate) []domain.MatchResult {
	results := s.scoreAll(exp, candidates, exp.Date, false)
	if len(results) > 0 || !s.cfg.TryDateInversion {
		return results
	}

	if swapped, ok := invertDate(exp.Date); ok {
		return s.scoreAll(exp, candidates, swapped, true)
	}

	return nil
}

func (s *Scorer) scoreAll(exp *domain.ExpenseRecord, candidates []*domain.BankCandidate, date time.Time, inverted bool) []domain.MatchResult {
	var results []domain.MatchResult
	for _, cand := range candidates {
		res, ok := s.scoreAt(exp, cand, date, inverted)
		if ok && res.Score >= s.cfg.QualifyingScore {
			results = append(results, res)
		}
	}
	return results
}

// invertDate swaps day and month. Only meaningful when the day could be a
// valid month and differs from it; otherwise the swap is impossible or a
// no-op.
func invertDate(t time.Time) (time.Time, bool) {
	day := t.Day()
	month := int(t.Month())
	if day > 12 || day == month {
		return time.Time{}, false
	}
	return time.Date(t.Year(), time.Month(day), month, 0, 0, 0, 0, t.Location()), true
}
