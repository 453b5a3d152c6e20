// Package decision applies approval thresholds to produce a terminal
// Decision, and builds the audit record of what was predicted vs finally
// used. Ambiguity and uncertainty are normal outcomes here, never errors:
// uncertainty in matching is expected business reality.
package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion is stamped into decision metadata.
const EngineVersion = "kestrel-1.0"

// Engine turns engine signals into a terminal Decision.
type Engine struct {
	cfg domain.EngineConfig
}

// NewEngine creates a decision engine with the given configuration.
func NewEngine(cfg domain.EngineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Input carries everything one decision needs.
type Input struct {
	Expense      *domain.ExpenseRecord
	Match        domain.ResolvedMatch
	Confidence   int
	Jurisdiction domain.JurisdictionResult
	Receipt      domain.ReceiptSignal

	// PolicyResults are tenant guard-rule outcomes, already evaluated.
	PolicyResults []domain.PolicyResult

	TraceID          string
	CandidatesScored int
	StartTime        time.Time
}

// Decide evaluates the decision table in its fixed order. Calling it twice
// with identical inputs produces an identical outcome; only the generated
// ID and timestamps differ.
func (e *Engine) Decide(input *Input) *domain.Decision {
	dec := &domain.Decision{
		ID:            uuid.New().String(),
		TenantID:      input.Expense.TenantID,
		ExpenseID:     input.Expense.ID,
		Confidence:    input.Confidence,
		Match:         input.Match,
		Jurisdiction:  input.Jurisdiction,
		PolicyResults: input.PolicyResults,
		Timestamp:     time.Now().UTC(),
	}

	dec.Outcome, dec.ReasonCode, dec.Reason = e.evaluate(input)

	dec.Metadata = domain.DecisionMetadata{
		TraceID:           input.TraceID,
		CandidatesScored:  input.CandidatesScored,
		PoliciesEvaluated: len(input.PolicyResults),
		EngineVersion:     EngineVersion,
	}
	if !input.StartTime.IsZero() {
		dec.Metadata.TotalMs = time.Since(input.StartTime).Milliseconds()
	}

	return dec
}

func (e *Engine) evaluate(input *Input) (domain.Outcome, domain.ReasonCode, string) {
	switch input.Match.Kind {
	case domain.ResolutionAmbiguous:
		return domain.OutcomeFlagForReview, domain.ReasonMultipleCandidates,
			fmt.Sprintf("%d bank transactions match equally well", len(input.Match.Candidates))
	case domain.ResolutionNone:
		return domain.OutcomeFlagForReview, domain.ReasonNoBankMatch,
			"no qualifying bank transaction found"
	}

	if input.Confidence < e.cfg.ApprovalThreshold {
		return domain.OutcomeFlagForReview, domain.ReasonLowConfidence,
			fmt.Sprintf("confidence %d below approval threshold %d", input.Confidence, e.cfg.ApprovalThreshold)
	}

	// Hard override: a receipt disagreeing with the claimed amount always
	// flags, no matter how well the bank side matched. Financial
	// correctness cannot be bought back with a high match score.
	if e.receiptAmountMismatch(input) {
		return domain.OutcomeFlagForReview, domain.ReasonAmountMismatch,
			"receipt amount differs from expense amount beyond tolerance"
	}

	for _, pr := range input.PolicyResults {
		if pr.Outcome == domain.PolicyOutcomeReview {
			reason := pr.Reason
			if reason == "" {
				reason = "policy rule " + pr.RuleID + " requested review"
			}
			return domain.OutcomeFlagForReview, domain.ReasonPolicyRule, reason
		}
	}

	return domain.OutcomeAutoApprove, domain.ReasonAutoApproved, "matched and within approval thresholds"
}

func (e *Engine) receiptAmountMismatch(input *Input) bool {
	if !input.Receipt.Present || input.Receipt.ExtractedAmount == nil {
		return false
	}
	diff := input.Receipt.ExtractedAmount.Sub(input.Expense.Amount).Abs()
	return diff.Cmp(e.cfg.ReceiptAmountTolerance) > 0
}
