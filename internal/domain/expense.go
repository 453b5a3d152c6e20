// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseStatus tracks an expense through the processing pipeline.
type ExpenseStatus string

const (
	ExpensePending    ExpenseStatus = "pending"
	ExpenseProcessing ExpenseStatus = "processing"
	ExpenseApproved   ExpenseStatus = "approved"
	ExpenseFlagged    ExpenseStatus = "flagged"
	ExpenseError      ExpenseStatus = "error"
)

// ExpenseClass is the typed classification of an expense category.
// Resolved once at ingestion from the category name; the engine never
// inspects category strings directly.
type ExpenseClass string

const (
	// ClassGeneral is the default class with no special handling.
	ClassGeneral ExpenseClass = "general"

	// ClassMeals covers meals and catering; eligible for the
	// tip-adjusted match band.
	ClassMeals ExpenseClass = "meals"

	// ClassEventServices covers cost-of-sales expenses tied to physical
	// events; eligible for jurisdiction resolution via the event calendar.
	ClassEventServices ExpenseClass = "event_services"

	// ClassTravel covers travel expenses; also event-calendar eligible.
	ClassTravel ExpenseClass = "travel"
)

// ExpenseRecord is a single reimbursable charge entering the engine.
// Read-only within the engine: processing produces a Decision and an
// AuditRecord, never a mutation of the expense itself.
type ExpenseRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`

	MerchantNameRaw string       `json:"merchantNameRaw"`
	CategoryName    string       `json:"categoryName,omitempty"`
	Class           ExpenseClass `json:"class"`

	// JurisdictionTagRaw is the free-text location tag attached upstream,
	// e.g. "California - CA". Empty when no tag was supplied.
	JurisdictionTagRaw string `json:"jurisdictionTagRaw,omitempty"`

	// PaymentSourceKey identifies the card or account the expense was
	// paid through, e.g. "amex", "wells_fargo".
	PaymentSourceKey string `json:"paymentSourceKey"`

	HasReceipt bool `json:"hasReceipt"`

	Status     ExpenseStatus `json:"status"`
	FlagReason string        `json:"flagReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BankCandidate is a posted charge on a card or account, supplied by the
// candidate feed already filtered to the expense's payment source and date
// window. Amounts are compared by absolute value: card feeds disagree on
// the sign convention for purchases.
type BankCandidate struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`

	DescriptionRaw string `json:"descriptionRaw"`

	// ExtractedVendor is an optional pre-cleaned vendor name from the
	// bank feed importer.
	ExtractedVendor string `json:"extractedVendor,omitempty"`

	PaymentSourceKey string `json:"paymentSourceKey"`

	CreatedAt time.Time `json:"createdAt"`
}

// ReceiptSignal is the output of the external OCR/extraction step for an
// expense's receipt. The engine consumes it as-is and never fetches or
// parses receipt images itself.
type ReceiptSignal struct {
	// Present is true when a receipt was attached to the expense.
	Present bool `json:"present"`

	// ExtractionFailed is true when a receipt was present but the
	// extraction step could not read it.
	ExtractionFailed bool `json:"extractionFailed,omitempty"`

	ExtractedAmount *decimal.Decimal `json:"extractedAmount,omitempty"`
	ExtractedDate   *time.Time       `json:"extractedDate,omitempty"`
}

// ExpenseRequest is the API payload for expense ingestion.
type ExpenseRequest struct {
	Amount            decimal.Decimal  `json:"amount"`
	Date              string           `json:"date"` // YYYY-MM-DD
	MerchantName      string           `json:"merchantName"`
	CategoryName      string           `json:"categoryName,omitempty"`
	JurisdictionTag   string           `json:"jurisdictionTag,omitempty"`
	PaymentSourceKey  string           `json:"paymentSourceKey"`
	HasReceipt        bool             `json:"hasReceipt"`
	ReceiptAmount     *decimal.Decimal `json:"receiptAmount,omitempty"`
	ReceiptDate       *string          `json:"receiptDate,omitempty"`
	ReceiptUnreadable bool             `json:"receiptUnreadable,omitempty"`
}

// BankTransactionRequest is the API payload for bank feed ingestion.
type BankTransactionRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	Date             string          `json:"date"` // YYYY-MM-DD
	Description      string          `json:"description"`
	ExtractedVendor  string          `json:"extractedVendor,omitempty"`
	PaymentSourceKey string          `json:"paymentSourceKey"`
}
