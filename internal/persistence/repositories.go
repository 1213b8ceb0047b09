package persistence

import (
	"context"
	"time"
)

// BookingFilter narrows booking queries.
type BookingFilter struct {
	RoomID      string
	UserID      string
	States      []string
	StartsAfter *time.Time
	EndsBefore  *time.Time
}

// OccurrenceFilter selects the occurrence rows of one room's bookings,
// optionally restricted to those overlapping a half-open window.
type OccurrenceFilter struct {
	RoomID      string
	States      []string
	WindowStart *time.Time
	WindowEnd   *time.Time
}

// BookingRepository stores bookings together with their occurrences.
//
// CreateBooking and UpdateBooking write the booking row and all of its
// occurrence rows in a single transaction; a booking is never persisted
// partially. UpdateBooking checks expectedVersion against the stored row and
// fails with ErrStaleVersion on mismatch without modifying anything.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	UpdateBooking(ctx context.Context, booking Booking, expectedVersion int64) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	ListOccurrences(ctx context.Context, filter OccurrenceFilter) ([]Occurrence, error)
}

// RoomRepository exposes the room catalog rows the engine depends on.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	ListRoomIDs(ctx context.Context) ([]string, error)
	RoomExists(ctx context.Context, id string) (bool, error)
}
