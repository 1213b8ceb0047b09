package events

import (
	"context"
	"log/slog"
)

// LogSink records events to the application log. It stands in for the
// broker when no AMQP URL is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs the event.
func (s *LogSink) Publish(_ context.Context, event Event) error {
	s.logger.Info("booking event",
		"event_type", string(event.Type),
		"booking_id", event.BookingID,
		"room_id", event.RoomID,
		"version", event.Version)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error {
	return nil
}
