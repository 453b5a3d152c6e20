// Package worker provides async expense processing off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// claimWindow is the lease on a processing claim. An expense that crashed
// mid-processing becomes claimable again once the window lapses.
const claimWindow = 5 * time.Minute

// Worker consumes ingested expenses, runs the reconciliation engine, and
// persists the decision and audit record.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *engine.Engine
	cfg    domain.EngineConfig

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via the
	// global subscription).
	TenantIDs []string
}

// NewWorker creates a new async worker. The cache is used for processing
// claims; passing nil disables claiming (single-node deployments).
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, eng *engine.Engine, cfg domain.EngineConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		engine: eng,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicExpenseIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicExpenseIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processExpense(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicExpenseIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processExpense(ctx, msg.TenantID, msg)
}

// ExpenseMessage is the message payload for expense processing.
type ExpenseMessage struct {
	ExpenseID string               `json:"expenseId"`
	TenantID  string               `json:"tenantId"`
	TraceID   string               `json:"traceId,omitempty"`
	Receipt   domain.ReceiptSignal `json:"receipt"`
}

// processExpense runs one expense through the full pipeline.
func (w *Worker) processExpense(ctx context.Context, tenantID string, msg *domain.Message) error {
	// Stop() waits for in-flight expenses, and an expense already picked up
	// runs to completion even though shutdown cancels the subscription
	// context. A half-persisted decision is worse than a slow stop.
	w.wg.Add(1)
	defer w.wg.Done()
	ctx = context.WithoutCancel(ctx)

	start := time.Now()

	var expMsg ExpenseMessage
	if err := json.Unmarshal(msg.Payload, &expMsg); err != nil {
		slog.Error("failed to parse expense message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if expMsg.TenantID != "" {
		tenantID = expMsg.TenantID
	}

	traceID := expMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	// Claim the expense before touching it: redelivery or a second node
	// must not produce a second processing attempt inside the lease.
	if w.cache != nil {
		count, err := w.cache.IncrementCounter(ctx, tenantID, "claim:"+expMsg.ExpenseID, claimWindow)
		if err != nil {
			slog.Error("processing claim failed",
				"expense_id", expMsg.ExpenseID,
				"error", err,
			)
			return err
		}
		if count > 1 {
			slog.Debug("expense already claimed, skipping",
				"expense_id", expMsg.ExpenseID,
				"tenant_id", tenantID,
			)
			return nil
		}
	}

	exp, err := w.repo.GetExpense(ctx, tenantID, expMsg.ExpenseID)
	if err != nil {
		slog.Error("failed to load expense",
			"expense_id", expMsg.ExpenseID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	_ = w.repo.UpdateExpenseStatus(ctx, tenantID, exp.ID, domain.ExpenseProcessing, "")

	candidates, err := w.repo.GetBankCandidates(ctx, tenantID, exp.PaymentSourceKey, exp.Date, w.cfg.CandidateWindowDays)
	if err != nil {
		slog.Error("failed to load bank candidates",
			"expense_id", exp.ID,
			"error", err,
		)
		return err
	}

	out, err := w.engine.Process(ctx, &engine.Input{
		Expense:    exp,
		Candidates: candidates,
		Receipt:    expMsg.Receipt,
		TraceID:    traceID,
	})
	if err != nil {
		// Malformed input is terminal for this expense: record the error
		// state and consume the message rather than redelivering it.
		if errors.Is(err, engine.ErrNegativeAmount) ||
			errors.Is(err, engine.ErrInvalidDate) ||
			errors.Is(err, engine.ErrPaymentSourceMismatch) {
			slog.Warn("expense failed validation",
				"expense_id", exp.ID,
				"tenant_id", tenantID,
				"error", err,
			)
			_ = w.repo.UpdateExpenseStatus(ctx, tenantID, exp.ID, domain.ExpenseError, err.Error())
			return nil
		}
		return fmt.Errorf("pipeline failed for expense %s: %w", exp.ID, err)
	}

	dec := out.Decision

	if err := w.repo.SaveDecision(ctx, tenantID, dec); err != nil {
		slog.Error("failed to save decision",
			"expense_id", exp.ID,
			"decision_id", dec.ID,
			"error", err,
		)
	}

	audit := decision.BuildAuditRecord(exp, dec, out.Matched)
	if err := w.repo.UpsertAuditRecord(ctx, tenantID, audit); err != nil {
		slog.Error("failed to upsert audit record",
			"expense_id", exp.ID,
			"error", err,
		)
	}

	status := domain.ExpenseApproved
	flagReason := ""
	if dec.Outcome == domain.OutcomeFlagForReview {
		status = domain.ExpenseFlagged
		flagReason = string(dec.ReasonCode)
	}
	_ = w.repo.UpdateExpenseStatus(ctx, tenantID, exp.ID, status, flagReason)

	resultPayload, _ := json.Marshal(dec)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicDecision, resultPayload); err != nil {
		slog.Error("failed to publish decision",
			"expense_id", exp.ID,
			"error", err,
		)
	}

	if dec.Outcome == domain.OutcomeFlagForReview {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicReview, resultPayload); err != nil {
			slog.Error("failed to publish review",
				"expense_id", exp.ID,
				"error", err,
			)
		}
	}

	slog.Info("expense processed",
		"expense_id", exp.ID,
		"tenant_id", tenantID,
		"outcome", dec.Outcome,
		"reason_code", dec.ReasonCode,
		"confidence", dec.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
