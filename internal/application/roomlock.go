package application

import (
	"context"
	"sync"
	"time"
)

// roomLocks serializes admission decisions per room. Each room gets a
// one-slot semaphore; holding the slot is the exclusive right to decide
// bookings for that room.
type roomLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newRoomLocks() *roomLocks {
	return &roomLocks{slots: make(map[string]chan struct{})}
}

func (l *roomLocks) slot(roomID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[roomID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[roomID] = slot
	}
	return slot
}

// acquire takes the room's slot, waiting at most timeout. It returns a
// release function on success, ErrRoomBusy when the wait times out, and
// the context error when the caller gives up first.
func (l *roomLocks) acquire(ctx context.Context, roomID string, timeout time.Duration) (func(), error) {
	slot := l.slot(roomID)

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-timer.C:
		return nil, ErrRoomBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
