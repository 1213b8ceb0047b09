package scheduler

import (
	"sort"
	"sync"

	"github.com/example/roombook/internal/timerange"
)

// AvailabilityWindow is the derived free/busy partition of a query range for
// one room. Busy and Free together cover the query range exactly, do not
// overlap, and are sorted ascending by start; external consumers rendering
// calendar grids rely on that ordering.
type AvailabilityWindow struct {
	RoomID string
	Query  timerange.Range
	Busy   []timerange.Range
	Free   []timerange.Range
}

// BuildAvailability partitions the query range into busy and free intervals
// from the room's occurrence snapshot. Occurrences outside the query range are
// ignored; those straddling its edges are clipped to it. The computation is
// pure, so multi-room queries can run it per room with no shared state.
func BuildAvailability(roomID string, query timerange.Range, existing []Occurrence) AvailabilityWindow {
	clipped := make([]timerange.Range, 0, len(existing))
	for _, occ := range existing {
		if r, ok := occ.Range.Clip(query); ok {
			clipped = append(clipped, r)
		}
	}

	busy := timerange.MergeSorted(clipped)

	free := []timerange.Range{query}
	for _, b := range busy {
		if len(free) == 0 {
			break
		}
		last := free[len(free)-1]
		free = append(free[:len(free)-1], last.Subtract(b)...)
	}

	return AvailabilityWindow{
		RoomID: roomID,
		Query:  query,
		Busy:   busy,
		Free:   free,
	}
}

// BuildAvailabilityBatch computes the partition for several rooms at once.
// Rooms share nothing, so each runs in its own goroutine. Results are ordered
// by room ID.
func BuildAvailabilityBatch(query timerange.Range, occurrencesByRoom map[string][]Occurrence) []AvailabilityWindow {
	if len(occurrencesByRoom) == 0 {
		return nil
	}

	roomIDs := make([]string, 0, len(occurrencesByRoom))
	for roomID := range occurrencesByRoom {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)

	windows := make([]AvailabilityWindow, len(roomIDs))
	var wg sync.WaitGroup
	for i, roomID := range roomIDs {
		wg.Add(1)
		go func(i int, roomID string) {
			defer wg.Done()
			windows[i] = BuildAvailability(roomID, query, occurrencesByRoom[roomID])
		}(i, roomID)
	}
	wg.Wait()
	return windows
}
