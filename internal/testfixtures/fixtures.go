package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/roombook/internal/application"
	"github.com/example/roombook/internal/persistence"
)

var (
	roomCounter    uint64
	bookingCounter uint64
)

var referenceTime = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
// It falls on a Monday so weekly recurrence scenarios read naturally.
func ReferenceTime() time.Time {
	return referenceTime
}

// RoomFixture represents a deterministic room record usable for application
// or persistence tests.
type RoomFixture struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture with optional overrides.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		ID:        fmt.Sprintf("room-%03d", idx),
		Name:      fmt.Sprintf("Room %03d", idx),
		Location:  "Floor 2",
		Capacity:  8,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) { f.ID = id }
}

// WithRoomCapacity overrides the generated capacity.
func WithRoomCapacity(capacity int) RoomOption {
	return func(f *RoomFixture) { f.Capacity = capacity }
}

// ApplicationRoom materialises the fixture as an application model.
func (f RoomFixture) ApplicationRoom() application.Room {
	return application.Room{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// PersistenceRoom materialises the fixture as a persistence model.
func (f RoomFixture) PersistenceRoom() persistence.Room {
	return persistence.Room{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// BookingFixture represents a deterministic booking with one occurrence per
// expanded slot.
type BookingFixture struct {
	ID     string
	RoomID string
	UserID string
	Title  string
	Start  time.Time
	End    time.Time
	State  application.BookingState
	Slots  []time.Time
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns a deterministic booking fixture. By default it is
// a confirmed one-hour single-occurrence booking starting at ReferenceTime,
// staggered per fixture so consecutive fixtures do not collide.
func NewBookingFixture(opts ...BookingOption) BookingFixture {
	idx := atomic.AddUint64(&bookingCounter, 1)
	start := referenceTime.Add(time.Duration(idx) * 2 * time.Hour)
	fixture := BookingFixture{
		ID:     fmt.Sprintf("booking-%03d", idx),
		RoomID: "room-001",
		UserID: fmt.Sprintf("user-%03d", idx),
		Title:  fmt.Sprintf("Meeting %03d", idx),
		Start:  start,
		End:    start.Add(time.Hour),
		State:  application.StateConfirmed,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithBookingID overrides the generated booking ID.
func WithBookingID(id string) BookingOption {
	return func(f *BookingFixture) { f.ID = id }
}

// WithBookingRoom places the booking in the given room.
func WithBookingRoom(roomID string) BookingOption {
	return func(f *BookingFixture) { f.RoomID = roomID }
}

// WithBookingUser sets the owning user.
func WithBookingUser(userID string) BookingOption {
	return func(f *BookingFixture) { f.UserID = userID }
}

// WithBookingState sets the lifecycle state.
func WithBookingState(state application.BookingState) BookingOption {
	return func(f *BookingFixture) { f.State = state }
}

// WithBookingRange sets the base time range.
func WithBookingRange(start, end time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Start = start
		f.End = end
	}
}

// WithBookingSlots adds extra occurrence start times beyond the base range.
// Each slot keeps the base range's duration.
func WithBookingSlots(starts ...time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Slots = append(f.Slots, starts...)
	}
}

// ApplicationBooking materialises the fixture as an application model with
// expanded occurrences.
func (f BookingFixture) ApplicationBooking() application.Booking {
	booking := application.Booking{
		ID:        f.ID,
		RoomID:    f.RoomID,
		UserID:    f.UserID,
		Title:     f.Title,
		Start:     f.Start,
		End:       f.End,
		State:     f.State,
		Version:   1,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	duration := f.End.Sub(f.Start)
	starts := append([]time.Time{f.Start}, f.Slots...)
	for i, start := range starts {
		booking.Occurrences = append(booking.Occurrences, application.Occurrence{
			Sequence: i,
			Start:    start,
			End:      start.Add(duration),
		})
	}
	return booking
}

// PersistenceBooking materialises the fixture as a persistence model.
func (f BookingFixture) PersistenceBooking() persistence.Booking {
	app := f.ApplicationBooking()
	booking := persistence.Booking{
		ID:        app.ID,
		RoomID:    app.RoomID,
		UserID:    app.UserID,
		Title:     app.Title,
		Start:     app.Start,
		End:       app.End,
		State:     string(app.State),
		Version:   app.Version,
		CreatedAt: app.CreatedAt,
		UpdatedAt: app.UpdatedAt,
	}
	for _, occ := range app.Occurrences {
		booking.Occurrences = append(booking.Occurrences, persistence.Occurrence{
			BookingID: app.ID,
			Sequence:  occ.Sequence,
			Start:     occ.Start,
			End:       occ.End,
		})
	}
	return booking
}
