package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type stubStore struct {
	events []*domain.CalendarEvent
	calls  int
}

func (s *stubStore) FindEventsOverlapping(ctx context.Context, tenantID string, date time.Time, bufferDays int) ([]*domain.CalendarEvent, error) {
	s.calls++
	return s.events, nil
}

func TestFindEventsOverlapping(t *testing.T) {
	store := &stubStore{
		events: []*domain.CalendarEvent{
			{ID: "ev-1", TenantID: "t1", Name: "Summit", JurisdictionCode: "CO"},
		},
	}
	svc := NewService(store, nil)

	events, err := svc.FindEventsOverlapping(context.Background(), "t1", time.Now(), 2)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(events) != 1 || events[0].JurisdictionCode != "CO" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestFindEventsRequiresTenant(t *testing.T) {
	svc := NewService(&stubStore{}, nil)

	if _, err := svc.FindEventsOverlapping(context.Background(), "", time.Now(), 2); err == nil {
		t.Error("expected error for missing tenant")
	}
}

func TestFindEventsCaches(t *testing.T) {
	store := &stubStore{
		events: []*domain.CalendarEvent{
			{ID: "ev-1", TenantID: "t1", Name: "Summit", JurisdictionCode: "CO"},
		},
	}
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(store, lru)
	date := time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		events, err := svc.FindEventsOverlapping(context.Background(), "t1", date, 2)
		if err != nil {
			t.Fatalf("lookup %d failed: %v", i, err)
		}
		if len(events) != 1 {
			t.Fatalf("lookup %d: expected 1 event, got %d", i, len(events))
		}
	}

	if store.calls != 1 {
		t.Errorf("expected 1 repository call with cache in front, got %d", store.calls)
	}

	// A different buffer widens the range, so it is a different key.
	if _, err := svc.FindEventsOverlapping(context.Background(), "t1", date, 5); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("expected a second repository call for a new buffer, got %d", store.calls)
	}
}

func TestFindEventsCacheIsTenantScoped(t *testing.T) {
	store := &stubStore{}
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(store, lru)
	date := time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)

	svc.FindEventsOverlapping(context.Background(), "t1", date, 2)
	svc.FindEventsOverlapping(context.Background(), "t2", date, 2)

	if store.calls != 2 {
		t.Errorf("tenants must not share cache entries, got %d calls", store.calls)
	}
}
