package application

import (
	"testing"
	"time"

	"github.com/example/roombook/internal/scheduler"
	"github.com/example/roombook/internal/timerange"
)

func cacheWindow(roomID string, query timerange.Range) scheduler.AvailabilityWindow {
	return scheduler.AvailabilityWindow{
		RoomID: roomID,
		Query:  query,
		Free:   []timerange.Range{query},
	}
}

func TestAvailabilityCache_StoreAndGet(t *testing.T) {
	t.Parallel()

	cache := newAvailabilityCache(time.Minute, 8, nil)
	query := timerange.Range{Start: atHour(6, 8), End: atHour(6, 18)}

	if _, ok := cache.Get("room-1", query); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Store("room-1", query, cacheWindow("room-1", query))

	got, ok := cache.Get("room-1", query)
	if !ok {
		t.Fatal("expected hit after store")
	}
	if got.RoomID != "room-1" || len(got.Free) != 1 {
		t.Fatalf("unexpected cached window: %+v", got)
	}

	otherQuery := timerange.Range{Start: atHour(6, 8), End: atHour(6, 12)}
	if _, ok := cache.Get("room-1", otherQuery); ok {
		t.Fatal("different query range must not hit")
	}
}

func TestAvailabilityCache_EntriesExpire(t *testing.T) {
	t.Parallel()

	current := atHour(6, 8)
	now := func() time.Time { return current }
	cache := newAvailabilityCache(time.Minute, 8, now)
	query := timerange.Range{Start: atHour(6, 8), End: atHour(6, 18)}

	cache.Store("room-1", query, cacheWindow("room-1", query))
	if _, ok := cache.Get("room-1", query); !ok {
		t.Fatal("expected hit before expiry")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := cache.Get("room-1", query); ok {
		t.Fatal("expected miss after ttl elapsed")
	}
}

func TestAvailabilityCache_InvalidateIsPerRoom(t *testing.T) {
	t.Parallel()

	cache := newAvailabilityCache(time.Minute, 8, nil)
	query := timerange.Range{Start: atHour(6, 8), End: atHour(6, 18)}

	cache.Store("room-1", query, cacheWindow("room-1", query))
	cache.Store("room-2", query, cacheWindow("room-2", query))

	cache.Invalidate("room-1")

	if _, ok := cache.Get("room-1", query); ok {
		t.Fatal("invalidated room must miss")
	}
	if _, ok := cache.Get("room-2", query); !ok {
		t.Fatal("other room must keep its entry")
	}
}

func TestAvailabilityCache_CachedWindowIsIsolated(t *testing.T) {
	t.Parallel()

	cache := newAvailabilityCache(time.Minute, 8, nil)
	query := timerange.Range{Start: atHour(6, 8), End: atHour(6, 18)}

	cache.Store("room-1", query, cacheWindow("room-1", query))

	first, _ := cache.Get("room-1", query)
	first.Free[0].Start = atHour(6, 9)

	second, _ := cache.Get("room-1", query)
	if !second.Free[0].Start.Equal(atHour(6, 8)) {
		t.Fatal("cached window leaked a shared slice")
	}
}
