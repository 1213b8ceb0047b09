package persistence

import "time"

// Room represents a meeting room catalog entry.
type Room struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Booking represents a reservation stored with its expanded occurrences.
// The occurrence rows are owned exclusively by the booking and replaced
// wholesale on any reschedule.
type Booking struct {
	ID          string
	RoomID      string
	UserID      string
	Title       string
	Description *string
	Start       time.Time
	End         time.Time
	State       string
	Version     int64
	Recurrence  *RecurrenceRule
	Occurrences []Occurrence

	CancelReason *string
	CancelledBy  *string
	CancelledAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Occurrence is one concrete scheduled instance belonging to a booking.
type Occurrence struct {
	BookingID string
	Sequence  int
	Start     time.Time
	End       time.Time
}

// RecurrenceRule captures the recurrence configuration attached to a booking.
// Weekdays is meaningful for weekly rules only.
type RecurrenceRule struct {
	Frequency string
	Interval  int
	EndDate   *time.Time
	Count     *int
	Weekdays  []time.Weekday
}
