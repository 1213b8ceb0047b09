package application

import (
	"time"

	"github.com/example/roombook/internal/recurrence"
	"github.com/example/roombook/internal/timerange"
)

// Role identifies the privilege level of the acting principal.
type Role string

const (
	// RoleMember can manage only their own bookings.
	RoleMember Role = "member"
	// RoleFacilityManager can additionally override conflicting bookings.
	RoleFacilityManager Role = "facility_manager"
	// RoleAdmin can manage any booking and override conflicts.
	RoleAdmin Role = "admin"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	Role   Role
}

// CanOverride reports whether the principal may supersede conflicting bookings.
func (p Principal) CanOverride() bool {
	return p.Role == RoleFacilityManager || p.Role == RoleAdmin
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// BookingState enumerates the lifecycle states of a booking.
type BookingState string

const (
	// StatePending marks a booking admitted but not yet decided.
	StatePending BookingState = "pending"
	// StateConfirmed marks a booking holding its room occurrences.
	StateConfirmed BookingState = "confirmed"
	// StateCancelled marks a booking withdrawn by its owner or superseded.
	StateCancelled BookingState = "cancelled"
	// StateRejected marks a booking refused due to conflicts.
	StateRejected BookingState = "rejected"
)

// IsActive reports whether the booking still occupies room time.
func (s BookingState) IsActive() bool {
	return s == StatePending || s == StateConfirmed
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s BookingState) CanTransitionTo(next BookingState) bool {
	switch s {
	case StatePending:
		return next == StateConfirmed || next == StateRejected || next == StateCancelled
	case StateConfirmed:
		return next == StateCancelled
	default:
		return false
	}
}

// activeStates lists the states considered during conflict detection.
func activeStates() []BookingState {
	return []BookingState{StatePending, StateConfirmed}
}

// Occurrence is one concrete time slot held by a booking.
type Occurrence struct {
	Sequence int
	Start    time.Time
	End      time.Time
}

// Booking represents a room reservation and its expanded occurrences.
type Booking struct {
	ID           string
	RoomID       string
	UserID       string
	Title        string
	Description  string
	Start        time.Time
	End          time.Time
	Recurrence   *recurrence.Pattern
	State        BookingState
	Version      int64
	Occurrences  []Occurrence
	CancelReason string
	CancelledBy  string
	CancelledAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Conflict identifies an existing occurrence that overlaps a candidate booking.
type Conflict struct {
	BookingID string
	Sequence  int
	Start     time.Time
	End       time.Time
}

// BookingInput captures caller provided booking fields.
type BookingInput struct {
	RoomID      string
	UserID      string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Recurrence  *recurrence.Pattern
}

// CreateBookingParams wraps the data required to create a booking.
type CreateBookingParams struct {
	Principal Principal
	Input     BookingInput
	Override  bool
}

// RescheduleBookingParams wraps the data required to move an existing booking.
type RescheduleBookingParams struct {
	Principal       Principal
	BookingID       string
	ExpectedVersion int64
	Start           time.Time
	End             time.Time
	Recurrence      *recurrence.Pattern
	Override        bool
}

// CancelBookingParams wraps the data required to cancel a booking.
type CancelBookingParams struct {
	Principal       Principal
	BookingID       string
	ExpectedVersion int64
	Reason          string
}

// BookingDecision reports the outcome of an admission attempt.
type BookingDecision struct {
	Booking       Booking
	Conflicts     []Conflict
	SupersededIDs []string
}

// ListBookingsParams wraps the data required to list bookings.
type ListBookingsParams struct {
	Principal   Principal
	RoomID      string
	UserID      string
	States      []BookingState
	StartsAfter *time.Time
	EndsBefore  *time.Time
}

// AvailabilityParams wraps the data required to compute room availability.
type AvailabilityParams struct {
	RoomID string
	Window timerange.Range
}

// MultiRoomAvailabilityParams wraps a batch availability query. Empty
// RoomIDs requests every room in the catalog.
type MultiRoomAvailabilityParams struct {
	RoomIDs []string
	Window  timerange.Range
}

// ConflictReportParams wraps the data required to report overlapping
// occurrences within one room.
type ConflictReportParams struct {
	Principal Principal
	RoomID    string
	Window    timerange.Range
}

// OccurrenceRef identifies one occurrence of a stored booking.
type OccurrenceRef struct {
	BookingID string
	Sequence  int
	Start     time.Time
	End       time.Time
}

// RoomConflict reports two occurrences from different bookings holding the
// same room time.
type RoomConflict struct {
	First  OccurrenceRef
	Second OccurrenceRef
}

// RoomInput captures caller provided room fields.
type RoomInput struct {
	Name     string
	Location string
	Capacity int
}

// Room represents a catalog entry for a physical meeting room.
type Room struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateRoomParams wraps the data required to create a room.
type CreateRoomParams struct {
	Principal Principal
	Input     RoomInput
}
