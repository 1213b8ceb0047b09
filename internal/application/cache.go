package application

import (
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/example/roombook/internal/scheduler"
	"github.com/example/roombook/internal/timerange"
)

// availabilityCache stores recently computed availability windows to avoid
// re-running the matrix builder for identical queries while a room's
// bookings remain unchanged. Invalidation bumps a per-room generation
// counter, so stale entries simply stop being addressable and age out of
// the LRU.
type availabilityCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, availabilityEntry]
	gens    map[string]uint64
	ttl     time.Duration
	now     func() time.Time
}

type availabilityEntry struct {
	window    scheduler.AvailabilityWindow
	expiresAt time.Time
}

func newAvailabilityCache(ttl time.Duration, maxEntries int, now func() time.Time) *availabilityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, availabilityEntry](maxEntries)
	if err != nil {
		// lru.New fails only for non-positive sizes, which are normalized above.
		panic(err)
	}
	return &availabilityCache{
		entries: entries,
		gens:    make(map[string]uint64),
		ttl:     ttl,
		now:     now,
	}
}

func (c *availabilityCache) Get(roomID string, query timerange.Range) (scheduler.AvailabilityWindow, bool) {
	if c == nil {
		return scheduler.AvailabilityWindow{}, false
	}
	key := c.key(roomID, query)
	entry, ok := c.entries.Get(key)
	if !ok {
		return scheduler.AvailabilityWindow{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.entries.Remove(key)
		return scheduler.AvailabilityWindow{}, false
	}
	return cloneWindow(entry.window), true
}

func (c *availabilityCache) Store(roomID string, query timerange.Range, window scheduler.AvailabilityWindow) {
	if c == nil {
		return
	}
	c.entries.Add(c.key(roomID, query), availabilityEntry{
		window:    cloneWindow(window),
		expiresAt: c.now().Add(c.ttl),
	})
}

// Invalidate drops all cached windows for the room.
func (c *availabilityCache) Invalidate(roomID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.gens[roomID]++
	c.mu.Unlock()
}

func (c *availabilityCache) key(roomID string, query timerange.Range) string {
	c.mu.Lock()
	gen := c.gens[roomID]
	c.mu.Unlock()

	builder := strings.Builder{}
	builder.WriteString(roomID)
	builder.WriteString("|")
	builder.WriteString(strconv.FormatUint(gen, 10))
	builder.WriteString("|")
	builder.WriteString(query.Start.UTC().Format(time.RFC3339Nano))
	builder.WriteString("|")
	builder.WriteString(query.End.UTC().Format(time.RFC3339Nano))
	return builder.String()
}

func cloneWindow(window scheduler.AvailabilityWindow) scheduler.AvailabilityWindow {
	out := window
	if len(window.Busy) > 0 {
		out.Busy = make([]timerange.Range, len(window.Busy))
		copy(out.Busy, window.Busy)
	}
	if len(window.Free) > 0 {
		out.Free = make([]timerange.Range, len(window.Free))
		copy(out.Free, window.Free)
	}
	return out
}
