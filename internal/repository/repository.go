// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveExpense stores an expense with tenant isolation.
func (r *SQLRepository) SaveExpense(ctx context.Context, tenantID string, exp *domain.ExpenseRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO expenses (
			id, tenant_id, amount, date, merchant_name, category_name,
			class, jurisdiction_tag, payment_source_key, has_receipt,
			status, flag_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		exp.ID, tenantID, exp.Amount.String(), exp.Date,
		exp.MerchantNameRaw, exp.CategoryName,
		string(exp.Class), exp.JurisdictionTagRaw,
		exp.PaymentSourceKey, boolToInt(exp.HasReceipt),
		string(exp.Status), exp.FlagReason,
		exp.CreatedAt, exp.UpdatedAt,
	)
	return err
}

// GetExpense retrieves an expense by ID with tenant isolation.
func (r *SQLRepository) GetExpense(ctx context.Context, tenantID string, expenseID string) (*domain.ExpenseRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, amount, date, merchant_name, category_name,
			   class, jurisdiction_tag, payment_source_key, has_receipt,
			   status, flag_reason, created_at, updated_at
		FROM expenses
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, expenseID)
	exp, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exp, err
}

// UpdateExpenseStatus moves an expense through the pipeline states.
func (r *SQLRepository) UpdateExpenseStatus(ctx context.Context, tenantID string, expenseID string, status domain.ExpenseStatus, flagReason string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE expenses
		SET status = ?, flag_reason = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(status), flagReason, time.Now().UTC(), tenantID, expenseID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListExpensesByStatus retrieves expenses in a given pipeline state.
func (r *SQLRepository) ListExpensesByStatus(ctx context.Context, tenantID string, status domain.ExpenseStatus, limit int) ([]*domain.ExpenseRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, amount, date, merchant_name, category_name,
			   class, jurisdiction_tag, payment_source_key, has_receipt,
			   status, flag_reason, created_at, updated_at
		FROM expenses
		WHERE tenant_id = ? AND status = ?
		ORDER BY created_at
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []*domain.ExpenseRecord
	for rows.Next() {
		exp, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, exp)
	}

	return expenses, rows.Err()
}

// SaveBankTransaction stores a bank posting with tenant isolation.
func (r *SQLRepository) SaveBankTransaction(ctx context.Context, tenantID string, tx *domain.BankCandidate) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO bank_transactions (
			id, tenant_id, amount, date, description,
			extracted_vendor, payment_source_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.Amount.String(), tx.Date,
		tx.DescriptionRaw, tx.ExtractedVendor,
		tx.PaymentSourceKey, tx.CreatedAt,
	)
	return err
}

// GetBankTransaction retrieves a bank posting by ID with tenant isolation.
func (r *SQLRepository) GetBankTransaction(ctx context.Context, tenantID string, txID string) (*domain.BankCandidate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, amount, date, description,
			   extracted_vendor, payment_source_key, created_at
		FROM bank_transactions
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID)
	tx, err := scanBankCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// GetBankCandidates returns postings on the same payment source dated
// within [date-windowDays, date+windowDays]. This is the prefilter that
// bounds what the scorer ever sees.
func (r *SQLRepository) GetBankCandidates(ctx context.Context, tenantID string, paymentSourceKey string, date time.Time, windowDays int) ([]*domain.BankCandidate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	window := time.Duration(windowDays) * 24 * time.Hour
	from := date.Add(-window)
	to := date.Add(window)

	query := `
		SELECT id, tenant_id, amount, date, description,
			   extracted_vendor, payment_source_key, created_at
		FROM bank_transactions
		WHERE tenant_id = ?
		  AND payment_source_key = ?
		  AND date >= ? AND date <= ?
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, paymentSourceKey, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*domain.BankCandidate
	for rows.Next() {
		cand, err := scanBankCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}

	return candidates, rows.Err()
}

// SaveDecision stores a decision with tenant isolation.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, dec *domain.Decision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	match, _ := json.Marshal(dec.Match)
	jurisdiction, _ := json.Marshal(dec.Jurisdiction)
	policyResults, _ := json.Marshal(dec.PolicyResults)
	metadata, _ := json.Marshal(dec.Metadata)

	query := `
		INSERT INTO decisions (
			id, tenant_id, expense_id, outcome, confidence, reason_code,
			reason, match_result, jurisdiction, policy_results, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		dec.ID, tenantID, dec.ExpenseID,
		string(dec.Outcome), dec.Confidence, string(dec.ReasonCode), dec.Reason,
		string(match), string(jurisdiction), string(policyResults), string(metadata),
		dec.Timestamp,
	)
	return err
}

// GetDecision retrieves a decision by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, decisionID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := decisionSelect + ` WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID)
	dec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dec, err
}

// GetDecisionByExpense retrieves the latest decision for an expense.
func (r *SQLRepository) GetDecisionByExpense(ctx context.Context, tenantID string, expenseID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := decisionSelect + `
		WHERE tenant_id = ? AND expense_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, expenseID)
	dec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dec, err
}

// ListFlaggedDecisions returns the review queue, oldest first.
func (r *SQLRepository) ListFlaggedDecisions(ctx context.Context, tenantID string, limit int) ([]*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := decisionSelect + `
		WHERE tenant_id = ? AND outcome = ?
		ORDER BY timestamp
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, string(domain.OutcomeFlagForReview), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		dec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, dec)
	}

	return decisions, rows.Err()
}

// UpsertAuditRecord writes the audit record for an expense, replacing any
// existing row for the same (tenant, expense) natural key.
func (r *SQLRepository) UpsertAuditRecord(ctx context.Context, tenantID string, rec *domain.AuditRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	predicted, _ := json.Marshal(rec.Predicted)
	final, _ := json.Marshal(rec.Final)
	corrections, _ := json.Marshal(rec.Corrections)

	query := `
		INSERT INTO audit_records (
			tenant_id, expense_id, predicted, final,
			was_corrected_by_human, ambiguous_jurisdiction, corrections,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, expense_id) DO UPDATE SET
			predicted = excluded.predicted,
			final = excluded.final,
			was_corrected_by_human = excluded.was_corrected_by_human,
			ambiguous_jurisdiction = excluded.ambiguous_jurisdiction,
			corrections = excluded.corrections,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, rec.ExpenseID, string(predicted), string(final),
		boolToInt(rec.WasCorrectedByHuman), boolToInt(rec.AmbiguousJurisdiction),
		string(corrections), rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// GetAuditRecord retrieves the audit record for an expense.
func (r *SQLRepository) GetAuditRecord(ctx context.Context, tenantID string, expenseID string) (*domain.AuditRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, expense_id, predicted, final,
			   was_corrected_by_human, ambiguous_jurisdiction, corrections,
			   created_at, updated_at
		FROM audit_records
		WHERE tenant_id = ? AND expense_id = ?
	`

	var rec domain.AuditRecord
	var predicted, final, corrections string
	var corrected, ambiguous int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, expenseID).Scan(
		&rec.TenantID, &rec.ExpenseID, &predicted, &final,
		&corrected, &ambiguous, &corrections,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.WasCorrectedByHuman = corrected == 1
	rec.AmbiguousJurisdiction = ambiguous == 1
	json.Unmarshal([]byte(predicted), &rec.Predicted)
	json.Unmarshal([]byte(final), &rec.Final)
	if corrections != "" {
		json.Unmarshal([]byte(corrections), &rec.Corrections)
	}

	return &rec, nil
}

// SavePolicyRule stores a policy rule with tenant isolation.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, tenantID string, rule *domain.PolicyRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (
			id, tenant_id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetPolicyRule retrieves the latest enabled version of a policy rule.
func (r *SQLRepository) GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.PolicyRule
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &bands, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &rule.Bands)

	return &rule, nil
}

// ListPolicyRules retrieves all enabled policy rules for a tenant.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, tenantID string) ([]*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var bands string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &bands, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &rule.Bands)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveCalendarEvent stores a calendar event with tenant isolation.
func (r *SQLRepository) SaveCalendarEvent(ctx context.Context, tenantID string, ev *domain.CalendarEvent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO calendar_events (
			id, tenant_id, name, jurisdiction_code, start_date, end_date
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, tenantID, ev.Name, ev.JurisdictionCode, ev.StartDate, ev.EndDate,
	)
	return err
}

// FindEventsOverlapping returns events whose buffered date range covers the
// given date.
func (r *SQLRepository) FindEventsOverlapping(ctx context.Context, tenantID string, date time.Time, bufferDays int) ([]*domain.CalendarEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	buffer := time.Duration(bufferDays) * 24 * time.Hour

	query := `
		SELECT id, tenant_id, name, jurisdiction_code, start_date, end_date
		FROM calendar_events
		WHERE tenant_id = ?
		  AND start_date <= ?
		  AND end_date >= ?
		ORDER BY start_date, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, date.Add(buffer), date.Add(-buffer))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.CalendarEvent
	for rows.Next() {
		var ev domain.CalendarEvent
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.Name, &ev.JurisdictionCode,
			&ev.StartDate, &ev.EndDate,
		); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const decisionSelect = `
	SELECT id, tenant_id, expense_id, outcome, confidence, reason_code,
		   reason, match_result, jurisdiction, policy_results, metadata, timestamp
	FROM decisions
`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner) (*domain.ExpenseRecord, error) {
	var exp domain.ExpenseRecord
	var amount, class, status string

	err := s.Scan(
		&exp.ID, &exp.TenantID, &amount, &exp.Date,
		&exp.MerchantNameRaw, &exp.CategoryName,
		&class, &exp.JurisdictionTagRaw,
		&exp.PaymentSourceKey, &exp.HasReceipt,
		&status, &exp.FlagReason,
		&exp.CreatedAt, &exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount for expense %s: %w", exp.ID, err)
	}
	exp.Amount = dec
	exp.Class = domain.ExpenseClass(class)
	exp.Status = domain.ExpenseStatus(status)

	return &exp, nil
}

func scanBankCandidate(s scanner) (*domain.BankCandidate, error) {
	var tx domain.BankCandidate
	var amount string

	err := s.Scan(
		&tx.ID, &tx.TenantID, &amount, &tx.Date,
		&tx.DescriptionRaw, &tx.ExtractedVendor,
		&tx.PaymentSourceKey, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount for bank transaction %s: %w", tx.ID, err)
	}
	tx.Amount = dec

	return &tx, nil
}

func scanDecision(s scanner) (*domain.Decision, error) {
	var dec domain.Decision
	var outcome, reasonCode string
	var match, jurisdiction, policyResults, metadata string

	err := s.Scan(
		&dec.ID, &dec.TenantID, &dec.ExpenseID,
		&outcome, &dec.Confidence, &reasonCode, &dec.Reason,
		&match, &jurisdiction, &policyResults, &metadata,
		&dec.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	dec.Outcome = domain.Outcome(outcome)
	dec.ReasonCode = domain.ReasonCode(reasonCode)
	json.Unmarshal([]byte(match), &dec.Match)
	json.Unmarshal([]byte(jurisdiction), &dec.Jurisdiction)
	if policyResults != "" {
		json.Unmarshal([]byte(policyResults), &dec.PolicyResults)
	}
	json.Unmarshal([]byte(metadata), &dec.Metadata)

	return &dec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
