// Package engine composes the reconciliation pipeline: match scoring,
// resolution, jurisdiction, confidence, policy rules, decision. The engine
// is pure — it owns no I/O beyond the injected calendar and policy lookups,
// holds no state between invocations, and is safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/confidence"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/match"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Malformed-input errors. These are the only errors the pipeline raises:
// ambiguity and uncertainty are decision outcomes, never errors. Callers
// must mark the expense errored and not retry blindly.
var (
	ErrNegativeAmount        = errors.New("expense amount is negative")
	ErrInvalidDate           = errors.New("expense date is missing or invalid")
	ErrPaymentSourceMismatch = errors.New("candidate payment source does not match expense")
)

// PolicyEvaluator evaluates tenant guard rules against pipeline signals.
// *policy.Engine satisfies it; it is an interface so tests can stub it.
type PolicyEvaluator interface {
	EvaluateAll(ctx context.Context, input *policy.EvaluateInput) ([]domain.PolicyResult, error)
}

// Engine runs the full reconciliation pipeline for one expense at a time.
type Engine struct {
	cfg          domain.EngineConfig
	scorer       *match.Scorer
	resolver     *match.Resolver
	jurisdiction *jurisdiction.Resolver
	confidence   *confidence.Scorer
	decider      *decision.Engine
	policies     PolicyEvaluator
}

// New creates a pipeline engine. The calendar and policy evaluator may be
// nil: without a calendar the jurisdiction waterfall skips event lookup,
// and without policies no guard rules run.
func New(cfg domain.EngineConfig, calendar domain.EventCalendar, policies PolicyEvaluator) *Engine {
	return &Engine{
		cfg:          cfg,
		scorer:       match.NewScorer(cfg),
		resolver:     match.NewResolver(cfg.AmbiguityDelta),
		jurisdiction: jurisdiction.NewResolver(cfg, calendar),
		confidence:   confidence.NewScorer(cfg),
		decider:      decision.NewEngine(cfg),
		policies:     policies,
	}
}

// Input is one expense with its pre-filtered candidate set and receipt
// signal. Candidates are expected to already be limited to the expense's
// payment source and date window by the caller.
type Input struct {
	Expense    *domain.ExpenseRecord
	Candidates []*domain.BankCandidate
	Receipt    domain.ReceiptSignal
	TraceID    string
}

// Output carries the decision plus the uniquely matched candidate, which
// the audit builder needs for tip-amount corrections.
type Output struct {
	Decision *domain.Decision
	Matched  *domain.BankCandidate
}

// Process runs the pipeline for one expense. Identical inputs produce an
// identical decision outcome; only generated IDs and timestamps differ.
func (e *Engine) Process(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()

	if err := e.validate(input); err != nil {
		return nil, err
	}

	exp := input.Expense

	results := e.scorer.ScoreAll(exp, input.Candidates)
	resolved := e.resolver.Resolve(results)

	jur := e.jurisdiction.Resolve(ctx, exp)

	conf := e.confidence.Compute(exp, resolved, input.Receipt, jur)

	var policyResults []domain.PolicyResult
	if e.policies != nil {
		var err error
		policyResults, err = e.policies.EvaluateAll(ctx, &policy.EvaluateInput{
			Expense:      exp,
			Confidence:   conf,
			Match:        resolved,
			Jurisdiction: jur,
		})
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
	}

	dec := e.decider.Decide(&decision.Input{
		Expense:          exp,
		Match:            resolved,
		Confidence:       conf,
		Jurisdiction:     jur,
		Receipt:          input.Receipt,
		PolicyResults:    policyResults,
		TraceID:          input.TraceID,
		CandidatesScored: len(input.Candidates),
		StartTime:        start,
	})

	return &Output{
		Decision: dec,
		Matched:  e.matchedCandidate(resolved, input.Candidates),
	}, nil
}

func (e *Engine) validate(input *Input) error {
	exp := input.Expense

	if exp.Amount.IsNegative() {
		return fmt.Errorf("expense %s: %w", exp.ID, ErrNegativeAmount)
	}
	if exp.Date.IsZero() {
		return fmt.Errorf("expense %s: %w", exp.ID, ErrInvalidDate)
	}
	for _, cand := range input.Candidates {
		if exp.PaymentSourceKey != "" && cand.PaymentSourceKey != "" &&
			cand.PaymentSourceKey != exp.PaymentSourceKey {
			return fmt.Errorf("expense %s, candidate %s: %w", exp.ID, cand.ID, ErrPaymentSourceMismatch)
		}
	}

	return nil
}

func (e *Engine) matchedCandidate(resolved domain.ResolvedMatch, candidates []*domain.BankCandidate) *domain.BankCandidate {
	if resolved.Kind != domain.ResolutionUnique || resolved.Best == nil {
		return nil
	}
	for _, cand := range candidates {
		if cand.ID == resolved.Best.CandidateID {
			return cand
		}
	}
	return nil
}
