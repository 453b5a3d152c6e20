// Package policy provides the CEL-Go based guard-rule evaluation engine.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles tenant policy rules once and evaluates them against each
// processed expense.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.PolicyRule
	Program cel.Program
}

// NewEngine creates a new policy evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the expense and the engine's intermediate
	// results. Rules fire after matching and confidence scoring, so both
	// are available to expressions.
	env, err := cel.NewEnv(
		cel.Variable("expense", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("class", cel.StringType),
		cel.Variable("has_receipt", cel.BoolType),
		cel.Variable("confidence", cel.IntType),
		cel.Variable("match_type", cel.StringType),
		cel.Variable("days_difference", cel.DoubleType),
		cel.Variable("jurisdiction", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("policy rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(rules []*domain.PolicyRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the expense and pipeline signals for rule evaluation.
type EvaluateInput struct {
	Expense        *domain.ExpenseRecord
	Confidence     int
	Match          domain.ResolvedMatch
	Jurisdiction   domain.JurisdictionResult
	AdditionalData map[string]any
}

// EvaluateAll evaluates all loaded rules in parallel.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.PolicyResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	exp := input.Expense
	amount, _ := exp.Amount.Float64()

	matchType := ""
	daysDifference := 0.0
	if input.Match.Kind == domain.ResolutionUnique && input.Match.Best != nil {
		matchType = string(input.Match.Best.Type)
		daysDifference = input.Match.Best.DaysDifference
	}

	activation := map[string]any{
		"expense": map[string]any{
			"id":       exp.ID,
			"amount":   amount,
			"merchant": exp.MerchantNameRaw,
			"category": exp.CategoryName,
			"class":    string(exp.Class),
			"date":     exp.Date.Format("2006-01-02"),
		},
		"amount":          amount,
		"merchant":        exp.MerchantNameRaw,
		"category":        exp.CategoryName,
		"class":           string(exp.Class),
		"has_receipt":     exp.HasReceipt,
		"confidence":      int64(input.Confidence),
		"match_type":      matchType,
		"days_difference": daysDifference,
		"jurisdiction":    input.Jurisdiction.Code,
	}

	for k, v := range input.AdditionalData {
		activation[k] = v
	}

	// Parallel evaluation with bounded concurrency
	results := make([]domain.PolicyResult, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.PolicyResult {
	result := domain.PolicyResult{
		RuleID: rule.Rule.ID,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Outcome = domain.PolicyOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	score := toScore(out)
	result.Score = score

	result.Outcome, result.Reason = matchBand(score, rule.Rule.Bands)

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score.
// Bands are evaluated in order: lower inclusive, upper exclusive, with a
// nil upper limit meaning unbounded.
func matchBand(score float64, bands []domain.PolicyBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9)

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		if score >= lower && (!hasUpper || score < upper) {
			return band.Outcome, band.Reason
		}
	}

	// No band claimed the score: the rule does not object.
	return domain.PolicyOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.PolicyRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.PolicyRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
