// Package jurisdiction resolves the accounting jurisdiction for an expense
// via a waterfall: explicit tag, then event-calendar lookup, then a fixed
// administrative fallback. Resolution is total: every expense ends with a
// concrete code, because downstream posting requires one.
package jurisdiction

import (
	"context"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// tagPattern is one row of the tag lookup table. Patterns are scanned in
// slice order, so the table fixes which pattern wins when a free-text tag
// mentions several jurisdictions.
type tagPattern struct {
	pattern string
	code    string
}

// Resolver runs the jurisdiction waterfall. All lookup tables are immutable
// configuration injected at construction time.
type Resolver struct {
	tags         []tagPattern
	sentinelTag  string
	fallbackCode string
	eventClasses map[domain.ExpenseClass]bool
	bufferDays   int
	calendar     domain.EventCalendar
}

// NewResolver creates a resolver from engine configuration and an event
// calendar collaborator. The calendar may be nil, in which case the event
// step is skipped entirely.
func NewResolver(cfg domain.EngineConfig, calendar domain.EventCalendar) *Resolver {
	tags := make([]tagPattern, 0, len(cfg.JurisdictionTags))
	for pattern, code := range cfg.JurisdictionTags {
		tags = append(tags, tagPattern{pattern: strings.ToUpper(pattern), code: code})
	}
	// Longest pattern first so "NORTH CAROLINA" beats any shorter pattern
	// it contains; ties break lexically. The scan order, and therefore the
	// resolution, is the same on every run.
	sort.Slice(tags, func(i, j int) bool {
		if len(tags[i].pattern) != len(tags[j].pattern) {
			return len(tags[i].pattern) > len(tags[j].pattern)
		}
		return tags[i].pattern < tags[j].pattern
	})
	return &Resolver{
		tags:         tags,
		sentinelTag:  strings.ToUpper(cfg.SentinelTag),
		fallbackCode: cfg.FallbackCode,
		eventClasses: cfg.EventClasses,
		bufferDays:   cfg.EventBufferDays,
		calendar:     calendar,
	}
}

// Resolve determines the jurisdiction for an expense. Never returns an
// unresolved result: the waterfall terminates in the fallback code.
func (r *Resolver) Resolve(ctx context.Context, exp *domain.ExpenseRecord) domain.JurisdictionResult {
	// 1. Explicit tag wins outright.
	if code, ok := r.extractTagCode(exp.JurisdictionTagRaw); ok {
		return domain.JurisdictionResult{
			Code:       code,
			SourceUsed: domain.SourceExplicitTag,
		}
	}

	// 2. Event lookup, for expense classes tied to physical events.
	if r.calendar != nil && r.eventClasses[exp.Class] {
		if res, ok := r.resolveFromEvents(ctx, exp); ok {
			return res
		}
	}

	// 3. Administrative fallback.
	return domain.JurisdictionResult{
		Code:       r.fallbackCode,
		SourceUsed: domain.SourceFallback,
	}
}

// extractTagCode maps a free-text location tag to a jurisdiction code.
// The sentinel tag ("no specific jurisdiction applies") maps straight to
// the administrative code rather than to "unresolved".
func (r *Resolver) extractTagCode(tag string) (string, bool) {
	if tag == "" {
		return "", false
	}

	upper := strings.ToUpper(strings.TrimSpace(tag))

	if upper == r.sentinelTag {
		return r.fallbackCode, true
	}

	for _, tp := range r.tags {
		if strings.Contains(upper, tp.pattern) {
			return tp.code, true
		}
	}

	// Tags shaped like "State Name - XX" carry the code after the dash.
	if parts := strings.Split(upper, " - "); len(parts) == 2 {
		code := strings.TrimSpace(parts[1])
		if len(code) == 2 && isAlpha(code) {
			return code, true
		}
	}

	return "", false
}

func (r *Resolver) resolveFromEvents(ctx context.Context, exp *domain.ExpenseRecord) (domain.JurisdictionResult, bool) {
	events, err := r.calendar.FindEventsOverlapping(ctx, exp.TenantID, exp.Date, r.bufferDays)
	if err != nil || len(events) == 0 {
		return domain.JurisdictionResult{}, false
	}

	if len(events) == 1 {
		return domain.JurisdictionResult{
			Code:       events[0].JurisdictionCode,
			SourceUsed: domain.SourceEventLookup,
			EventID:    events[0].ID,
		}, true
	}

	hint, _ := r.extractTagCode(exp.JurisdictionTagRaw)
	event, ambiguous := selectEvent(events, hint)
	return domain.JurisdictionResult{
		Code:         event.JurisdictionCode,
		SourceUsed:   domain.SourceEventLookup,
		WasAmbiguous: ambiguous,
		EventID:      event.ID,
	}, true
}

// selectEvent picks a venue among overlapping events. An event whose
// jurisdiction equals the hint is preferred; remaining ties resolve to the
// earliest-starting event, then lowest ID, so the pick is deterministic.
// The ambiguous flag reports whether two or more events remained equally
// plausible after the hint.
func selectEvent(events []*domain.CalendarEvent, hint string) (*domain.CalendarEvent, bool) {
	pool := events
	if hint != "" {
		var hinted []*domain.CalendarEvent
		for _, ev := range events {
			if ev.JurisdictionCode == hint {
				hinted = append(hinted, ev)
			}
		}
		if len(hinted) > 0 {
			pool = hinted
		}
	}

	sorted := make([]*domain.CalendarEvent, len(pool))
	copy(sorted, pool)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].StartDate.Equal(sorted[j].StartDate) {
			return sorted[i].StartDate.Before(sorted[j].StartDate)
		}
		return sorted[i].ID < sorted[j].ID
	})

	return sorted[0], len(pool) > 1
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
