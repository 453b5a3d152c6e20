// Package calendar provides the event calendar backing jurisdiction
// resolution.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EventStore is the slice of the repository the calendar needs.
type EventStore interface {
	FindEventsOverlapping(ctx context.Context, tenantID string, date time.Time, bufferDays int) ([]*domain.CalendarEvent, error)
}

// Service answers event-overlap lookups from the repository with a cache in
// front. It implements domain.EventCalendar.
type Service struct {
	repo     EventStore
	cache    domain.Cache
	cacheTTL time.Duration
}

// NewService creates a calendar service. The cache may be nil, in which case
// every lookup hits the repository.
func NewService(repo EventStore, cache domain.Cache) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: 5 * time.Minute,
	}
}

// FindEventsOverlapping returns events whose buffered date range covers the
// given date. Results are cached per tenant, date, and buffer width; event
// ingestion invalidates via TTL rather than explicit busting since calendar
// data changes rarely and staleness is bounded.
func (s *Service) FindEventsOverlapping(ctx context.Context, tenantID string, date time.Time, bufferDays int) ([]*domain.CalendarEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	key := cacheKey(date, bufferDays)

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, tenantID, key); err == nil && data != nil {
			var events []*domain.CalendarEvent
			if err := json.Unmarshal(data, &events); err == nil {
				return events, nil
			}
			// Corrupt entry: drop it and fall through to the repository.
			_ = s.cache.Delete(ctx, tenantID, key)
		}
	}

	events, err := s.repo.FindEventsOverlapping(ctx, tenantID, date, bufferDays)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping events: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(events); err == nil {
			_ = s.cache.Set(ctx, tenantID, key, data, s.cacheTTL)
		}
	}

	return events, nil
}

func cacheKey(date time.Time, bufferDays int) string {
	return fmt.Sprintf("calendar:%s:%d", date.Format("2006-01-02"), bufferDays)
}
