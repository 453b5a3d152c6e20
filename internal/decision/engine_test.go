package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testExpense() *domain.ExpenseRecord {
	return &domain.ExpenseRecord{
		ID:       "exp-1",
		TenantID: "t1",
		Amount:   decimal.RequireFromString("18.37"),
		Date:     time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC),
	}
}

func uniqueMatch() domain.ResolvedMatch {
	return domain.ResolvedMatch{
		Kind:     domain.ResolutionUnique,
		Best:     &domain.MatchResult{CandidateID: "bt-1", Type: domain.MatchExact, Score: 100},
		TopScore: 100,
	}
}

func goodReceipt(amount string) domain.ReceiptSignal {
	amt := decimal.RequireFromString(amount)
	return domain.ReceiptSignal{Present: true, ExtractedAmount: &amt}
}

func jurisdictionNC() domain.JurisdictionResult {
	return domain.JurisdictionResult{Code: "NC", SourceUsed: domain.SourceFallback}
}

func TestDecideAutoApprove(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())

	dec := e.Decide(&Input{
		Expense:      testExpense(),
		Match:        uniqueMatch(),
		Confidence:   100,
		Jurisdiction: jurisdictionNC(),
		Receipt:      goodReceipt("18.37"),
	})

	if dec.Outcome != domain.OutcomeAutoApprove {
		t.Errorf("outcome = %s, want %s", dec.Outcome, domain.OutcomeAutoApprove)
	}
	if dec.ReasonCode != domain.ReasonAutoApproved {
		t.Errorf("reasonCode = %s, want %s", dec.ReasonCode, domain.ReasonAutoApproved)
	}
	if dec.ID == "" {
		t.Error("decision must carry an id")
	}
}

func TestDecideAmbiguousMatch(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())

	dec := e.Decide(&Input{
		Expense: testExpense(),
		Match: domain.ResolvedMatch{
			Kind:     domain.ResolutionAmbiguous,
			TopScore: 100,
			Candidates: []domain.MatchResult{
				{CandidateID: "bt-1", Score: 100},
				{CandidateID: "bt-2", Score: 100},
			},
		},
		Confidence:   100, // even perfect confidence cannot approve an ambiguous match
		Jurisdiction: jurisdictionNC(),
		Receipt:      goodReceipt("18.37"),
	})

	if dec.Outcome != domain.OutcomeFlagForReview {
		t.Errorf("outcome = %s, want %s", dec.Outcome, domain.OutcomeFlagForReview)
	}
	if dec.ReasonCode != domain.ReasonMultipleCandidates {
		t.Errorf("reasonCode = %s, want %s", dec.ReasonCode, domain.ReasonMultipleCandidates)
	}
}

func TestDecideNoMatch(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())

	dec := e.Decide(&Input{
		Expense:      testExpense(),
		Match:        domain.NoMatch(),
		Confidence:   50,
		Jurisdiction: jurisdictionNC(),
		Receipt:      goodReceipt("18.37"),
	})

	if dec.Outcome != domain.OutcomeFlagForReview {
		t.Errorf("outcome = %s, want %s", dec.Outcome, domain.OutcomeFlagForReview)
	}
	if dec.ReasonCode != domain.ReasonNoBankMatch {
		t.Errorf("reasonCode = %s, want %s", dec.ReasonCode, domain.ReasonNoBankMatch)
	}
}

func TestDecideLowConfidence(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())

	dec := e.Decide(&Input{
		Expense:      testExpense(),
		Match:        uniqueMatch(),
		Confidence:   84, // just under the default threshold of 85
		Jurisdiction: jurisdictionNC(),
		Receipt:      goodReceipt("18.37"),
	})

	if dec.ReasonCode != domain.ReasonLowConfidence {
		t.Errorf("reasonCode = %s, want %s", dec.ReasonCode, domain.ReasonLowConfidence)
	}
}

func TestDecideHardAmountOverride(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())

	// Receipt disagrees with the claimed amount: flags regardless of how
	// high the confidence is.
	for _, confidence := range []int{85, 95, 100} {
		dec := e.Decide(&Input{
			Expense:      testExpense(),
			Match:        uniqueMatch(),
			Confidence:   confidence,
			Jurisdiction: jurisdictionNC(),
			Receipt:      goodReceipt("99.99"),
		})

		if dec.Outcome != domain.OutcomeFlagForReview {
			t.Errorf("confidence %d: outcome = %s, want %s", confidence, dec.Outcome, domain.OutcomeFlagForReview)
		}
		if dec.ReasonCode != domain.ReasonAmountMismatch {
			t.Errorf("confidence %d: reasonCode = %s, want %s", confidence, dec.ReasonCode, domain.ReasonAmountMismatch)
		}
	}
}

func TestDecidePolicyReview(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())

	dec := e.Decide(&Input{
		Expense:      testExpense(),
		Match:        uniqueMatch(),
		Confidence:   100,
		Jurisdiction: jurisdictionNC(),
		Receipt:      goodReceipt("18.37"),
		PolicyResults: []domain.PolicyResult{
			{RuleID: "pol-1", Outcome: domain.PolicyOutcomePass},
			{RuleID: "pol-2", Outcome: domain.PolicyOutcomeReview, Reason: "amount above tenant ceiling"},
		},
	})

	if dec.Outcome != domain.OutcomeFlagForReview {
		t.Errorf("outcome = %s, want %s", dec.Outcome, domain.OutcomeFlagForReview)
	}
	if dec.ReasonCode != domain.ReasonPolicyRule {
		t.Errorf("reasonCode = %s, want %s", dec.ReasonCode, domain.ReasonPolicyRule)
	}
	if dec.Reason != "amount above tenant ceiling" {
		t.Errorf("reason = %q", dec.Reason)
	}
}

func TestDecideAmbiguousJurisdictionDoesNotFlag(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())

	dec := e.Decide(&Input{
		Expense:    testExpense(),
		Match:      uniqueMatch(),
		Confidence: 100,
		Jurisdiction: domain.JurisdictionResult{
			Code: "CO", SourceUsed: domain.SourceEventLookup, WasAmbiguous: true,
		},
		Receipt: goodReceipt("18.37"),
	})

	if dec.Outcome != domain.OutcomeAutoApprove {
		t.Errorf("outcome = %s, want %s (ambiguous jurisdiction alone must not flag)", dec.Outcome, domain.OutcomeAutoApprove)
	}
}

func TestDecideDeterministicOutcome(t *testing.T) {
	e := NewEngine(domain.DefaultEngineConfig())
	input := &Input{
		Expense:      testExpense(),
		Match:        uniqueMatch(),
		Confidence:   100,
		Jurisdiction: jurisdictionNC(),
		Receipt:      goodReceipt("18.37"),
	}

	first := e.Decide(input)
	for i := 0; i < 10; i++ {
		next := e.Decide(input)
		if next.Outcome != first.Outcome || next.ReasonCode != first.ReasonCode || next.Confidence != first.Confidence {
			t.Fatal("identical inputs produced differing decisions")
		}
	}
}
