package decision

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Snapshot condenses a Decision into one side of an audit record.
func Snapshot(dec *domain.Decision) domain.OutcomeSnapshot {
	snap := domain.OutcomeSnapshot{
		Outcome:            dec.Outcome,
		ReasonCode:         dec.ReasonCode,
		Confidence:         dec.Confidence,
		JurisdictionCode:   dec.Jurisdiction.Code,
		JurisdictionSource: dec.Jurisdiction.SourceUsed,
	}
	if dec.Match.Kind == domain.ResolutionUnique && dec.Match.Best != nil {
		snap.MatchType = dec.Match.Best.Type
		snap.CandidateID = dec.Match.Best.CandidateID
	}
	return snap
}

// BuildAuditRecord assembles the audit record for a fresh processing
// attempt: predicted and final start out identical, and pipeline-made
// corrections (date inversion, tip-inflated amounts) are recorded for
// compliance and learning.
// The matched candidate may be nil when resolution produced no unique match.
func BuildAuditRecord(exp *domain.ExpenseRecord, dec *domain.Decision, matched *domain.BankCandidate) *domain.AuditRecord {
	now := time.Now().UTC()
	snap := Snapshot(dec)

	rec := &domain.AuditRecord{
		TenantID:              exp.TenantID,
		ExpenseID:             exp.ID,
		Predicted:             snap,
		Final:                 snap,
		AmbiguousJurisdiction: dec.Jurisdiction.WasAmbiguous,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if dec.Match.Kind == domain.ResolutionUnique && dec.Match.Best != nil {
		best := dec.Match.Best
		if best.DateInverted {
			rec.Corrections = append(rec.Corrections, domain.Correction{
				Field:     "expense_date",
				Original:  exp.Date.Format("2006-01-02"),
				Corrected: invertedDateString(exp.Date),
				Reason:    "DD/MM vs MM/DD inversion detected against bank posting",
				Source:    "bank_transaction",
			})
		}
		if best.Type == domain.MatchTipAdjusted && matched != nil {
			rec.Corrections = append(rec.Corrections, domain.Correction{
				Field:     "amount",
				Original:  exp.Amount.String(),
				Corrected: matched.Amount.Abs().String(),
				Reason:    "bank posting includes card-settled gratuity",
				Source:    "bank_transaction",
			})
		}
	}

	return rec
}

// ApplyHumanResolution records the reviewer's final outcome on an existing
// audit record. The predicted side is preserved untouched so prediction
// accuracy stays measurable. Each field the reviewer changed relative to
// the prediction gets its own correction entry.
func ApplyHumanResolution(rec *domain.AuditRecord, final domain.OutcomeSnapshot, note string) {
	corrected := final != rec.Predicted

	rec.Final = final
	rec.WasCorrectedByHuman = corrected
	rec.UpdatedAt = time.Now().UTC()

	if !corrected {
		return
	}

	humanCorrection := func(field, original, changed string) domain.Correction {
		return domain.Correction{
			Field:     field,
			Original:  original,
			Corrected: changed,
			Reason:    note,
			Source:    "human",
		}
	}
	if final.Outcome != rec.Predicted.Outcome {
		rec.Corrections = append(rec.Corrections,
			humanCorrection("decision", string(rec.Predicted.Outcome), string(final.Outcome)))
	}
	if final.CandidateID != rec.Predicted.CandidateID {
		rec.Corrections = append(rec.Corrections,
			humanCorrection("matched_transaction", rec.Predicted.CandidateID, final.CandidateID))
	}
	if final.JurisdictionCode != rec.Predicted.JurisdictionCode {
		rec.Corrections = append(rec.Corrections,
			humanCorrection("jurisdiction", rec.Predicted.JurisdictionCode, final.JurisdictionCode))
	}
}

func invertedDateString(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Day(), int(t.Month()))
}
