package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// GlobalTenantID is used for policy rules that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	policies *policy.Engine
	cfg      domain.EngineConfig
	version  string

	// syncMode processes expenses inline on POST /expenses instead of
	// publishing to the worker. Used by single-node deployments and tests.
	syncMode bool
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, policies *policy.Engine, cfg domain.EngineConfig, version string, syncMode bool) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   eng,
		policies: policies,
		cfg:      cfg,
		version:  version,
		syncMode: syncMode,
	}
}

// DecisionResponse is the response for synchronous expense processing.
type DecisionResponse struct {
	ExpenseID  string `json:"expenseId"`
	DecisionID string `json:"decisionId"`
	Outcome    string `json:"outcome"`
	ReasonCode string `json:"reasonCode"`
	Reason     string `json:"reason,omitempty"`
	Confidence int    `json:"confidence"`

	Jurisdiction domain.JurisdictionResult `json:"jurisdiction"`

	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// IngestExpense handles POST /expenses. In async mode the expense is
// persisted and handed to the worker; in sync mode the full pipeline runs
// inline and the decision is returned.
func (h *Handler) IngestExpense(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.MerchantName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "merchantName is required",
		})
		return
	}
	if req.PaymentSourceKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "paymentSourceKey is required",
		})
		return
	}
	if req.Amount.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "date must be YYYY-MM-DD",
		})
		return
	}

	receipt, err := receiptFromRequest(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	exp := &domain.ExpenseRecord{
		ID:                 uuid.New().String(),
		TenantID:           tenantID,
		Amount:             req.Amount,
		Date:               date,
		MerchantNameRaw:    req.MerchantName,
		CategoryName:       req.CategoryName,
		Class:              h.cfg.ClassifyCategory(req.CategoryName),
		JurisdictionTagRaw: req.JurisdictionTag,
		PaymentSourceKey:   req.PaymentSourceKey,
		HasReceipt:         req.HasReceipt,
		Status:             domain.ExpensePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.repo.SaveExpense(ctx, tenantID, exp); err != nil {
		slog.Error("failed to save expense", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save expense",
		})
		return
	}

	if h.syncMode {
		h.processInline(w, r, exp, receipt, traceID, start)
		return
	}

	msg := worker.ExpenseMessage{
		ExpenseID: exp.ID,
		TenantID:  tenantID,
		TraceID:   traceID,
		Receipt:   receipt,
	}
	payload, _ := json.Marshal(msg)
	if err := h.bus.Publish(ctx, tenantID, domain.TopicExpenseIngested, payload); err != nil {
		slog.Error("failed to publish expense", "expense_id", exp.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue expense for processing",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"expenseId": exp.ID,
		"status":    string(domain.ExpensePending),
		"traceId":   traceID,
	})
}

// processInline runs the pipeline synchronously and writes the decision.
func (h *Handler) processInline(w http.ResponseWriter, r *http.Request, exp *domain.ExpenseRecord, receipt domain.ReceiptSignal, traceID string, start time.Time) {
	ctx := r.Context()
	tenantID := exp.TenantID

	candidates, err := h.repo.GetBankCandidates(ctx, tenantID, exp.PaymentSourceKey, exp.Date, h.cfg.CandidateWindowDays)
	if err != nil {
		slog.Error("failed to load bank candidates", "expense_id", exp.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load bank candidates",
		})
		return
	}

	out, err := h.engine.Process(ctx, &engine.Input{
		Expense:    exp,
		Candidates: candidates,
		Receipt:    receipt,
		TraceID:    traceID,
	})
	if err != nil {
		if errors.Is(err, engine.ErrNegativeAmount) ||
			errors.Is(err, engine.ErrInvalidDate) ||
			errors.Is(err, engine.ErrPaymentSourceMismatch) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("expense processing failed", "expense_id", exp.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "expense processing failed",
		})
		return
	}

	dec := out.Decision
	if err := h.repo.SaveDecision(ctx, tenantID, dec); err != nil {
		slog.Error("failed to save decision", "expense_id", exp.ID, "error", err)
	}
	rec := decision.BuildAuditRecord(exp, dec, out.Matched)
	if err := h.repo.UpsertAuditRecord(ctx, tenantID, rec); err != nil {
		slog.Error("failed to save audit record", "expense_id", exp.ID, "error", err)
	}

	status := domain.ExpenseApproved
	flagReason := ""
	if dec.Outcome == domain.OutcomeFlagForReview {
		status = domain.ExpenseFlagged
		flagReason = string(dec.ReasonCode)
	}
	if err := h.repo.UpdateExpenseStatus(ctx, tenantID, exp.ID, status, flagReason); err != nil {
		slog.Error("failed to update expense status", "expense_id", exp.ID, "error", err)
	}

	resp := DecisionResponse{
		ExpenseID:    exp.ID,
		DecisionID:   dec.ID,
		Outcome:      string(dec.Outcome),
		ReasonCode:   string(dec.ReasonCode),
		Reason:       dec.Reason,
		Confidence:   dec.Confidence,
		Jurisdiction: dec.Jurisdiction,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetExpense retrieves an expense by ID.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	expenseID := chi.URLParam(r, "id")

	exp, err := h.repo.GetExpense(ctx, tenantID, expenseID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "expense not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// GetExpenseDecision retrieves the latest decision for an expense.
func (h *Handler) GetExpenseDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	expenseID := chi.URLParam(r, "id")

	dec, err := h.repo.GetDecisionByExpense(ctx, tenantID, expenseID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no decision for expense",
		})
		return
	}

	writeJSON(w, http.StatusOK, dec)
}

// GetExpenseAudit retrieves the audit record for an expense.
func (h *Handler) GetExpenseAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	expenseID := chi.URLParam(r, "id")

	rec, err := h.repo.GetAuditRecord(ctx, tenantID, expenseID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "audit record not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetDecision retrieves a decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	decisionID := chi.URLParam(r, "id")

	dec, err := h.repo.GetDecision(ctx, tenantID, decisionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, dec)
}

// IngestBankTransaction handles POST /bank-transactions.
func (h *Handler) IngestBankTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.BankTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Description == "" || req.PaymentSourceKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "description and paymentSourceKey are required",
		})
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "date must be YYYY-MM-DD",
		})
		return
	}

	tx := &domain.BankCandidate{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		Amount:           req.Amount,
		Date:             date,
		DescriptionRaw:   req.Description,
		ExtractedVendor:  req.ExtractedVendor,
		PaymentSourceKey: req.PaymentSourceKey,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.repo.SaveBankTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save bank transaction", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save bank transaction",
		})
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// GetBankTransaction retrieves a bank transaction by ID.
func (h *Handler) GetBankTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetBankTransaction(ctx, tenantID, txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "bank transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// CreateEvent handles POST /events.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.JurisdictionCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and jurisdictionCode are required",
		})
		return
	}
	startDate, err := parseDate(req.StartDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "startDate must be YYYY-MM-DD",
		})
		return
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "endDate must be YYYY-MM-DD",
		})
		return
	}
	if endDate.Before(startDate) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "endDate must not be before startDate",
		})
		return
	}

	ev := &domain.CalendarEvent{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		Name:             req.Name,
		JurisdictionCode: req.JurisdictionCode,
		StartDate:        startDate,
		EndDate:          endDate,
	}

	if err := h.repo.SaveCalendarEvent(ctx, tenantID, ev); err != nil {
		slog.Error("failed to save calendar event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save calendar event",
		})
		return
	}

	writeJSON(w, http.StatusCreated, ev)
}

// ListReviews returns flagged decisions awaiting human review, oldest first.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	decisions, err := h.repo.ListFlaggedDecisions(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list flagged decisions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list reviews",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reviews": decisions,
		"count":   len(decisions),
	})
}

// ResolveReviewRequest is the request body for POST /reviews/{id}/resolve.
// The path ID is the expense ID under review.
type ResolveReviewRequest struct {
	// Outcome is the reviewer's verdict: "approve" or "reject".
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`

	// MatchedTransactionID records the bank transaction the reviewer picked
	// as the true match. Only meaningful on approve.
	MatchedTransactionID string `json:"matchedTransactionId,omitempty"`

	// JurisdictionCode overrides the predicted jurisdiction.
	JurisdictionCode string `json:"jurisdictionCode,omitempty"`
}

// ResolveReview records a human resolution on a flagged expense. The
// predicted side of the audit record is preserved so prediction accuracy
// stays measurable.
func (h *Handler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	expenseID := chi.URLParam(r, "id")

	var req ResolveReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Outcome != "approve" && req.Outcome != "reject" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": `outcome must be "approve" or "reject"`,
		})
		return
	}

	rec, err := h.repo.GetAuditRecord(ctx, tenantID, expenseID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "audit record not found",
		})
		return
	}

	final := rec.Predicted
	if req.Outcome == "approve" {
		final.Outcome = domain.OutcomeAutoApprove
		final.ReasonCode = domain.ReasonAutoApproved
		// A reviewer confirmation carries full confidence.
		final.Confidence = 100
	} else {
		final.Outcome = domain.OutcomeFlagForReview
	}

	if req.MatchedTransactionID != "" {
		if _, err := h.repo.GetBankTransaction(ctx, tenantID, req.MatchedTransactionID); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "matched bank transaction not found",
			})
			return
		}
		final.MatchType = domain.MatchHuman
		final.CandidateID = req.MatchedTransactionID
	}
	if req.JurisdictionCode != "" {
		final.JurisdictionCode = strings.ToUpper(strings.TrimSpace(req.JurisdictionCode))
		final.JurisdictionSource = domain.SourceHuman
	}

	decision.ApplyHumanResolution(rec, final, req.Note)

	if err := h.repo.UpsertAuditRecord(ctx, tenantID, rec); err != nil {
		slog.Error("failed to save audit record", "expense_id", expenseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save resolution",
		})
		return
	}

	status := domain.ExpenseApproved
	flagReason := ""
	if final.Outcome == domain.OutcomeFlagForReview {
		status = domain.ExpenseFlagged
		flagReason = string(final.ReasonCode)
	}
	if err := h.repo.UpdateExpenseStatus(ctx, tenantID, expenseID, status, flagReason); err != nil {
		slog.Error("failed to update expense status", "expense_id", expenseID, "error", err)
	}

	slog.Info("review resolved",
		"tenant_id", tenantID,
		"expense_id", expenseID,
		"outcome", req.Outcome,
		"corrected", rec.WasCorrectedByHuman,
	)
	writeJSON(w, http.StatusOK, rec)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListPolicies returns all loaded policy rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.policies.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves a policy rule by ID from the loaded engine rules.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.policies.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating a policy rule.
type CreatePolicyRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Expression  string              `json:"expression"`
	Bands       []domain.PolicyBand `json:"bands"`
	Enabled     bool                `json:"enabled"`
}

// CreatePolicy creates a new policy rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /policies/reload to hot-reload into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.PolicyRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression by attempting to load.
	if err := h.policies.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicyRule(ctx, GlobalTenantID, rule); err != nil {
		slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy",
		})
		return
	}

	slog.Info("policy created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  rule,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads all policy rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.repo.ListPolicyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list policy rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(dbRules),
	})
}

// receiptFromRequest assembles the OCR receipt signal from the ingest
// payload fields.
func receiptFromRequest(req *domain.ExpenseRequest) (domain.ReceiptSignal, error) {
	sig := domain.ReceiptSignal{
		Present:          req.HasReceipt,
		ExtractionFailed: req.ReceiptUnreadable,
		ExtractedAmount:  req.ReceiptAmount,
	}
	if req.ReceiptDate != nil {
		d, err := parseDate(*req.ReceiptDate)
		if err != nil {
			return sig, errors.New("receiptDate must be YYYY-MM-DD")
		}
		sig.ExtractedDate = &d
	}
	return sig, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
