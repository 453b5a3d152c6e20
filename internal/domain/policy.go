package domain

// PolicyRule is a tenant-configurable guard rule evaluated against a
// processing outcome before auto-approval. Rules are CEL expressions over
// the expense and the engine's intermediate results.
type PolicyRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is the CEL expression to evaluate. Must return bool, int,
	// or double; the result is banded into an outcome.
	Expression string `json:"expression"`

	// Bands map score ranges to outcomes.
	Bands []PolicyBand `json:"bands"`

	Enabled bool `json:"enabled"`
}

// PolicyBand maps a score range to an outcome.
type PolicyBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // ".pass", ".review"
	Reason     string   `json:"reason"`
}

// PolicyResult is the output of one policy rule evaluation.
type PolicyResult struct {
	RuleID  string  `json:"ruleId"`
	Outcome string  `json:"outcome"` // ".pass", ".review", ".err"
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// Predefined policy outcomes.
const (
	PolicyOutcomePass   = ".pass"
	PolicyOutcomeReview = ".review"
	PolicyOutcomeError  = ".err"
)
