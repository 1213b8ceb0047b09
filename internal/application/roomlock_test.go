package application

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRoomLocks_AcquireAndRelease(t *testing.T) {
	t.Parallel()

	locks := newRoomLocks()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "room-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()

	release, err = locks.acquire(ctx, "room-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	release()
}

func TestRoomLocks_TimeoutWhenHeld(t *testing.T) {
	t.Parallel()

	locks := newRoomLocks()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "room-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	if _, err := locks.acquire(ctx, "room-1", 20*time.Millisecond); !errors.Is(err, ErrRoomBusy) {
		t.Fatalf("expected ErrRoomBusy, got %v", err)
	}
}

func TestRoomLocks_RoomsAreIndependent(t *testing.T) {
	t.Parallel()

	locks := newRoomLocks()
	ctx := context.Background()

	releaseA, err := locks.acquire(ctx, "room-a", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire room-a failed: %v", err)
	}
	defer releaseA()

	releaseB, err := locks.acquire(ctx, "room-b", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire room-b blocked by room-a: %v", err)
	}
	releaseB()
}

func TestRoomLocks_ContextCancellation(t *testing.T) {
	t.Parallel()

	locks := newRoomLocks()

	release, err := locks.acquire(context.Background(), "room-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := locks.acquire(ctx, "room-1", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRoomLocks_WaiterGetsSlotOnRelease(t *testing.T) {
	t.Parallel()

	locks := newRoomLocks()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "room-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		waiterRelease, err := locks.acquire(ctx, "room-1", time.Second)
		if err == nil {
			waiterRelease()
		}
		acquired <- err
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	if err := <-acquired; err != nil {
		t.Fatalf("waiter failed to acquire after release: %v", err)
	}
}
