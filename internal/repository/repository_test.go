package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)

	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetExpense", func(t *testing.T) {
		exp := &domain.ExpenseRecord{
			ID:               "exp-001",
			Amount:           decimal.RequireFromString("18.37"),
			Date:             time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC),
			MerchantNameRaw:  "Bacon Bacon",
			CategoryName:     "Meals & Catering",
			Class:            domain.ClassMeals,
			PaymentSourceKey: "amex",
			HasReceipt:       true,
			Status:           domain.ExpensePending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := repo.SaveExpense(ctx, tenantID, exp); err != nil {
			t.Fatalf("SaveExpense failed: %v", err)
		}

		retrieved, err := repo.GetExpense(ctx, tenantID, exp.ID)
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}

		if retrieved.ID != exp.ID {
			t.Errorf("expected ID %s, got %s", exp.ID, retrieved.ID)
		}
		if !retrieved.Amount.Equal(exp.Amount) {
			t.Errorf("expected Amount %s, got %s", exp.Amount, retrieved.Amount)
		}
		if retrieved.Class != domain.ClassMeals {
			t.Errorf("expected class %s, got %s", domain.ClassMeals, retrieved.Class)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if !retrieved.HasReceipt {
			t.Error("expected HasReceipt to round-trip")
		}
	})

	t.Run("UpdateExpenseStatus", func(t *testing.T) {
		if err := repo.UpdateExpenseStatus(ctx, tenantID, "exp-001", domain.ExpenseFlagged, "low_confidence"); err != nil {
			t.Fatalf("UpdateExpenseStatus failed: %v", err)
		}

		exp, _ := repo.GetExpense(ctx, tenantID, "exp-001")
		if exp.Status != domain.ExpenseFlagged {
			t.Errorf("expected status %s, got %s", domain.ExpenseFlagged, exp.Status)
		}
		if exp.FlagReason != "low_confidence" {
			t.Errorf("expected flag reason persisted, got %q", exp.FlagReason)
		}

		if err := repo.UpdateExpenseStatus(ctx, tenantID, "nonexistent", domain.ExpenseApproved, ""); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for unknown expense, got: %v", err)
		}
	})

	t.Run("ListExpensesByStatus", func(t *testing.T) {
		expenses, err := repo.ListExpensesByStatus(ctx, tenantID, domain.ExpenseFlagged, 10)
		if err != nil {
			t.Fatalf("ListExpensesByStatus failed: %v", err)
		}
		if len(expenses) != 1 || expenses[0].ID != "exp-001" {
			t.Errorf("unexpected flagged expenses: %d", len(expenses))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetExpense(ctx, "tenant-002", "exp-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := repo.SaveExpense(ctx, "", &domain.ExpenseRecord{ID: "exp-x"})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetExpense(ctx, "", "exp-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("BankCandidateWindow", func(t *testing.T) {
		base := time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)

		postings := []*domain.BankCandidate{
			{ID: "bt-001", Amount: decimal.RequireFromString("-18.37"), Date: base, DescriptionRaw: "TST* BACON BACON", PaymentSourceKey: "amex", CreatedAt: now},
			{ID: "bt-002", Amount: decimal.RequireFromString("-42.50"), Date: base.AddDate(0, 0, 10), DescriptionRaw: "RESTAURANT", PaymentSourceKey: "amex", CreatedAt: now},
			{ID: "bt-003", Amount: decimal.RequireFromString("-42.50"), Date: base.AddDate(0, 0, 20), DescriptionRaw: "RESTAURANT", PaymentSourceKey: "amex", CreatedAt: now},
			{ID: "bt-004", Amount: decimal.RequireFromString("-18.37"), Date: base, DescriptionRaw: "OTHER CARD", PaymentSourceKey: "visa", CreatedAt: now},
		}
		for _, p := range postings {
			if err := repo.SaveBankTransaction(ctx, tenantID, p); err != nil {
				t.Fatalf("SaveBankTransaction failed: %v", err)
			}
		}

		// 15-day window: the 20-days-off posting and the other card must
		// not appear.
		candidates, err := repo.GetBankCandidates(ctx, tenantID, "amex", base, 15)
		if err != nil {
			t.Fatalf("GetBankCandidates failed: %v", err)
		}
		if len(candidates) != 2 {
			t.Fatalf("expected 2 candidates, got %d", len(candidates))
		}
		for _, c := range candidates {
			if c.ID == "bt-003" || c.ID == "bt-004" {
				t.Errorf("candidate %s should have been filtered out", c.ID)
			}
		}

		retrieved, err := repo.GetBankTransaction(ctx, tenantID, "bt-001")
		if err != nil {
			t.Fatalf("GetBankTransaction failed: %v", err)
		}
		if !retrieved.Amount.Equal(decimal.RequireFromString("-18.37")) {
			t.Errorf("amount did not round-trip: %s", retrieved.Amount)
		}
	})

	t.Run("SaveAndGetDecision", func(t *testing.T) {
		dec := &domain.Decision{
			ID:         "dec-001",
			ExpenseID:  "exp-001",
			Outcome:    domain.OutcomeFlagForReview,
			Confidence: 70,
			ReasonCode: domain.ReasonLowConfidence,
			Reason:     "confidence 70 below approval threshold 85",
			Match: domain.ResolvedMatch{
				Kind:     domain.ResolutionUnique,
				Best:     &domain.MatchResult{CandidateID: "bt-001", Type: domain.MatchAmountOnly, Score: 70},
				TopScore: 70,
			},
			Jurisdiction: domain.JurisdictionResult{Code: "NC", SourceUsed: domain.SourceFallback},
			Timestamp:    now,
			Metadata:     domain.DecisionMetadata{TraceID: "trace-001", CandidatesScored: 2, EngineVersion: "kestrel-1.0"},
		}

		if err := repo.SaveDecision(ctx, tenantID, dec); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		retrieved, err := repo.GetDecision(ctx, tenantID, dec.ID)
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if retrieved.ReasonCode != domain.ReasonLowConfidence {
			t.Errorf("reasonCode = %s", retrieved.ReasonCode)
		}
		if retrieved.Match.Best == nil || retrieved.Match.Best.CandidateID != "bt-001" {
			t.Errorf("match did not round-trip: %+v", retrieved.Match)
		}
		if retrieved.Jurisdiction.Code != "NC" {
			t.Errorf("jurisdiction did not round-trip: %+v", retrieved.Jurisdiction)
		}

		byExpense, err := repo.GetDecisionByExpense(ctx, tenantID, "exp-001")
		if err != nil {
			t.Fatalf("GetDecisionByExpense failed: %v", err)
		}
		if byExpense.ID != dec.ID {
			t.Errorf("expected decision %s, got %s", dec.ID, byExpense.ID)
		}
	})

	t.Run("ListFlaggedDecisions", func(t *testing.T) {
		decisions, err := repo.ListFlaggedDecisions(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListFlaggedDecisions failed: %v", err)
		}
		if len(decisions) != 1 || decisions[0].ID != "dec-001" {
			t.Errorf("unexpected review queue: %d entries", len(decisions))
		}
	})

	t.Run("AuditRecordUpsert", func(t *testing.T) {
		rec := &domain.AuditRecord{
			ExpenseID: "exp-001",
			Predicted: domain.OutcomeSnapshot{
				Outcome:    domain.OutcomeFlagForReview,
				ReasonCode: domain.ReasonLowConfidence,
				Confidence: 70,
			},
			Final: domain.OutcomeSnapshot{
				Outcome:    domain.OutcomeFlagForReview,
				ReasonCode: domain.ReasonLowConfidence,
				Confidence: 70,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := repo.UpsertAuditRecord(ctx, tenantID, rec); err != nil {
			t.Fatalf("UpsertAuditRecord failed: %v", err)
		}

		// Human resolution replaces the row in place: still exactly one
		// record per expense.
		rec.Final.Outcome = domain.OutcomeAutoApprove
		rec.Final.ReasonCode = domain.ReasonAutoApproved
		rec.WasCorrectedByHuman = true
		rec.Corrections = []domain.Correction{
			{Field: "decision", Original: "flag_for_review", Corrected: "auto_approve", Source: "human"},
		}
		rec.UpdatedAt = now.Add(time.Minute)

		if err := repo.UpsertAuditRecord(ctx, tenantID, rec); err != nil {
			t.Fatalf("second upsert failed: %v", err)
		}

		retrieved, err := repo.GetAuditRecord(ctx, tenantID, "exp-001")
		if err != nil {
			t.Fatalf("GetAuditRecord failed: %v", err)
		}
		if !retrieved.WasCorrectedByHuman {
			t.Error("expected wasCorrectedByHuman after upsert")
		}
		if retrieved.Final.Outcome != domain.OutcomeAutoApprove {
			t.Errorf("final outcome = %s", retrieved.Final.Outcome)
		}
		if retrieved.Predicted.Outcome != domain.OutcomeFlagForReview {
			t.Errorf("predicted outcome = %s", retrieved.Predicted.Outcome)
		}
		if len(retrieved.Corrections) != 1 || retrieved.Corrections[0].Source != "human" {
			t.Errorf("corrections did not round-trip: %+v", retrieved.Corrections)
		}
	})

	t.Run("PolicyRules", func(t *testing.T) {
		rule := &domain.PolicyRule{
			ID:         "pol-001",
			Name:       "Amount Ceiling",
			Version:    "1",
			Expression: "amount > 500.0",
			Bands: []domain.PolicyBand{
				{Outcome: domain.PolicyOutcomeReview, Reason: "amount above ceiling"},
			},
			Enabled: true,
		}

		if err := repo.SavePolicyRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SavePolicyRule failed: %v", err)
		}

		retrieved, err := repo.GetPolicyRule(ctx, tenantID, "pol-001")
		if err != nil {
			t.Fatalf("GetPolicyRule failed: %v", err)
		}
		if retrieved.Expression != rule.Expression {
			t.Errorf("expression = %q", retrieved.Expression)
		}
		if len(retrieved.Bands) != 1 {
			t.Errorf("bands did not round-trip: %+v", retrieved.Bands)
		}

		// Same version saves update in place.
		rule.Expression = "amount > 750.0"
		if err := repo.SavePolicyRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		rules, err := repo.ListPolicyRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListPolicyRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].Expression != "amount > 750.0" {
			t.Errorf("unexpected rules: %+v", rules)
		}
	})

	t.Run("CalendarEvents", func(t *testing.T) {
		ev := &domain.CalendarEvent{
			ID:               "ev-001",
			Name:             "Boulder Summit",
			JurisdictionCode: "CO",
			StartDate:        time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC),
			EndDate:          time.Date(2025, 11, 18, 0, 0, 0, 0, time.UTC),
		}

		if err := repo.SaveCalendarEvent(ctx, tenantID, ev); err != nil {
			t.Fatalf("SaveCalendarEvent failed: %v", err)
		}

		// Date inside the range.
		events, err := repo.FindEventsOverlapping(ctx, tenantID, time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC), 0)
		if err != nil {
			t.Fatalf("FindEventsOverlapping failed: %v", err)
		}
		if len(events) != 1 || events[0].JurisdictionCode != "CO" {
			t.Errorf("unexpected events: %+v", events)
		}

		// Two days past the end: only the buffer reaches it.
		probe := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
		events, _ = repo.FindEventsOverlapping(ctx, tenantID, probe, 0)
		if len(events) != 0 {
			t.Errorf("expected no events without buffer, got %d", len(events))
		}
		events, _ = repo.FindEventsOverlapping(ctx, tenantID, probe, 2)
		if len(events) != 1 {
			t.Errorf("expected 1 event with 2-day buffer, got %d", len(events))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetExpense(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetDecision(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAuditRecord(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
