package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const publishTimeout = 5 * time.Second

// Dispatcher decouples booking operations from event delivery. Dispatch
// enqueues without blocking; a single background worker drains the queue
// into the sink. When the queue is full the event is dropped and logged,
// never propagated back to the caller.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewDispatcher starts the delivery worker. Buffer sizes below one are
// raised to a small default.
func NewDispatcher(sink Sink, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues the event for asynchronous delivery. It never blocks;
// when the queue is full or the dispatcher is closed the event is dropped
// with a warning.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping event",
			"event_type", string(event.Type),
			"booking_id", event.BookingID)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("event queue full, dropping event",
			"event_type", string(event.Type),
			"booking_id", event.BookingID)
	}
}

// Close stops accepting events, drains the queue, and closes the sink.
// Safe to call more than once.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
	return d.sink.Close()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := d.sink.Publish(ctx, event); err != nil {
			d.logger.Error("failed to publish event",
				"event_type", string(event.Type),
				"booking_id", event.BookingID,
				"error", err)
		}
		cancel()
	}
}
