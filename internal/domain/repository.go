package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Expense operations
	SaveExpense(ctx context.Context, tenantID string, exp *ExpenseRecord) error
	GetExpense(ctx context.Context, tenantID string, expenseID string) (*ExpenseRecord, error)
	UpdateExpenseStatus(ctx context.Context, tenantID string, expenseID string, status ExpenseStatus, flagReason string) error
	ListExpensesByStatus(ctx context.Context, tenantID string, status ExpenseStatus, limit int) ([]*ExpenseRecord, error)

	// Bank transaction operations. GetBankCandidates returns candidates on
	// the same payment source within [date-windowDays, date+windowDays].
	SaveBankTransaction(ctx context.Context, tenantID string, tx *BankCandidate) error
	GetBankTransaction(ctx context.Context, tenantID string, txID string) (*BankCandidate, error)
	GetBankCandidates(ctx context.Context, tenantID string, paymentSourceKey string, date time.Time, windowDays int) ([]*BankCandidate, error)

	// Decision results
	SaveDecision(ctx context.Context, tenantID string, dec *Decision) error
	GetDecision(ctx context.Context, tenantID string, decisionID string) (*Decision, error)
	GetDecisionByExpense(ctx context.Context, tenantID string, expenseID string) (*Decision, error)
	ListFlaggedDecisions(ctx context.Context, tenantID string, limit int) ([]*Decision, error)

	// Audit records: exactly one per expense, replaced in place.
	UpsertAuditRecord(ctx context.Context, tenantID string, rec *AuditRecord) error
	GetAuditRecord(ctx context.Context, tenantID string, expenseID string) (*AuditRecord, error)

	// Policy rule operations
	SavePolicyRule(ctx context.Context, tenantID string, rule *PolicyRule) error
	GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*PolicyRule, error)
	ListPolicyRules(ctx context.Context, tenantID string) ([]*PolicyRule, error)

	// Calendar event operations
	SaveCalendarEvent(ctx context.Context, tenantID string, ev *CalendarEvent) error
	FindEventsOverlapping(ctx context.Context, tenantID string, date time.Time, bufferDays int) ([]*CalendarEvent, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
