package domain

import (
	"time"
)

// Outcome is the terminal disposition of a processing attempt.
type Outcome string

const (
	OutcomeAutoApprove   Outcome = "auto_approve"
	OutcomeFlagForReview Outcome = "flag_for_review"
)

// ReasonCode is the machine-parseable reason attached to a Decision.
// The human-readable reason is display-only and never the primary signal.
type ReasonCode string

const (
	ReasonAutoApproved       ReasonCode = "auto_approved"
	ReasonMultipleCandidates ReasonCode = "multiple_candidates"
	ReasonNoBankMatch        ReasonCode = "no_bank_match"
	ReasonLowConfidence      ReasonCode = "low_confidence"
	ReasonAmountMismatch     ReasonCode = "amount_mismatch"
	ReasonPolicyRule         ReasonCode = "policy_rule"
)

// Decision is the terminal output of one processing attempt. The engine is
// stateless: persistence and posting are the caller's responsibility, and
// identical inputs always produce an identical Decision.
type Decision struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	ExpenseID string `json:"expenseId"`

	Outcome    Outcome    `json:"outcome"`
	Confidence int        `json:"confidence"` // 0-100
	ReasonCode ReasonCode `json:"reasonCode"`
	Reason     string     `json:"reason"` // display only

	Match        ResolvedMatch      `json:"match"`
	Jurisdiction JurisdictionResult `json:"jurisdiction"`

	// PolicyResults holds the outcomes of tenant policy rules, when any
	// are loaded.
	PolicyResults []PolicyResult `json:"policyResults,omitempty"`

	Timestamp time.Time        `json:"timestamp"`
	Metadata  DecisionMetadata `json:"metadata"`
}

// DecisionMetadata carries processing information for observability.
type DecisionMetadata struct {
	TraceID           string `json:"traceId"`
	CandidatesScored  int    `json:"candidatesScored"`
	PoliciesEvaluated int    `json:"policiesEvaluated"`
	TotalMs           int64  `json:"totalMs"`
	EngineVersion     string `json:"engineVersion"`
}

// OutcomeSnapshot is one side (predicted or final) of an audit record.
type OutcomeSnapshot struct {
	Outcome            Outcome            `json:"outcome"`
	ReasonCode         ReasonCode         `json:"reasonCode"`
	Confidence         int                `json:"confidence"`
	MatchType          MatchType          `json:"matchType,omitempty"`
	CandidateID        string             `json:"candidateId,omitempty"`
	JurisdictionCode   string             `json:"jurisdictionCode"`
	JurisdictionSource JurisdictionSource `json:"jurisdictionSource"`
}

// Correction records a field the pipeline (or a human) changed relative to
// the ingested expense, for compliance and learning.
type Correction struct {
	Field     string `json:"field"`
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
	Source    string `json:"source"` // "receipt", "bank_transaction", "human"
}

// AuditRecord is the immutable record of what was predicted vs finally
// used for an expense. Exactly one exists per expense: persistence upserts
// by (tenant, expense) natural key rather than inserting a second row.
type AuditRecord struct {
	TenantID  string `json:"tenantId"`
	ExpenseID string `json:"expenseId"`

	Predicted OutcomeSnapshot `json:"predicted"`
	Final     OutcomeSnapshot `json:"final"`

	WasCorrectedByHuman bool `json:"wasCorrectedByHuman"`

	// AmbiguousJurisdiction preserves the waterfall's ambiguity signal even
	// though it does not force a review on its own.
	AmbiguousJurisdiction bool `json:"ambiguousJurisdiction,omitempty"`

	Corrections []Correction `json:"corrections,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
