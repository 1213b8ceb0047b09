// Package events carries booking lifecycle notifications to external
// consumers. Delivery is fire-and-forget: booking operations never block or
// fail because a notification could not be sent.
package events

import (
	"context"
	"time"
)

// Type identifies the lifecycle transition an event announces.
type Type string

const (
	// TypeConfirmed announces a booking that now holds its room occurrences.
	TypeConfirmed Type = "booking.confirmed"
	// TypeRejected announces a booking refused due to conflicts.
	TypeRejected Type = "booking.rejected"
	// TypeCancelled announces a booking withdrawn by its owner or an admin.
	TypeCancelled Type = "booking.cancelled"
	// TypeSuperseded announces a booking cancelled in favor of an override.
	TypeSuperseded Type = "booking.superseded"
)

// Event is the notification payload published for a lifecycle transition.
type Event struct {
	Type       Type      `json:"type"`
	BookingID  string    `json:"booking_id"`
	RoomID     string    `json:"room_id"`
	UserID     string    `json:"user_id"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink delivers events to a concrete transport.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
