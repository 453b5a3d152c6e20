package domain

import (
	"context"
	"time"
)

// JurisdictionSource identifies which step of the waterfall resolved the
// jurisdiction.
type JurisdictionSource string

const (
	SourceExplicitTag JurisdictionSource = "explicit_tag"
	SourceEventLookup JurisdictionSource = "event_lookup"
	SourceFallback    JurisdictionSource = "fallback"

	// SourceHuman marks a jurisdiction set by a reviewer during resolution.
	SourceHuman JurisdictionSource = "human"
)

// JurisdictionResult is the outcome of jurisdiction resolution. The code is
// always concrete: downstream posting requires one, so the waterfall
// terminates in the administrative fallback rather than "unknown".
type JurisdictionResult struct {
	Code       string             `json:"code"`
	SourceUsed JurisdictionSource `json:"sourceUsed"`

	// WasAmbiguous is true when an event lookup found two or more equally
	// plausible venues and one was picked deterministically.
	WasAmbiguous bool `json:"wasAmbiguous,omitempty"`

	// EventID identifies the calendar event used, when SourceUsed is
	// event_lookup.
	EventID string `json:"eventId,omitempty"`
}

// CalendarEvent is a scheduled physical event with a venue jurisdiction.
type CalendarEvent struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	JurisdictionCode string `json:"jurisdictionCode"`

	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// EventCalendar supplies events whose date range overlaps a given date.
// The buffer widens the range on both sides to cover setup and teardown
// days around the event proper.
type EventCalendar interface {
	FindEventsOverlapping(ctx context.Context, tenantID string, date time.Time, bufferDays int) ([]*CalendarEvent, error)
}

// EventRequest is the API payload for calendar event ingestion.
type EventRequest struct {
	Name             string `json:"name"`
	JurisdictionCode string `json:"jurisdictionCode"`
	StartDate        string `json:"startDate"` // YYYY-MM-DD
	EndDate          string `json:"endDate"`   // YYYY-MM-DD
}
