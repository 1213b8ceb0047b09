package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes events as persistent JSON messages to a durable
// RabbitMQ queue. A broken connection is re-dialed once per publish; if the
// retry also fails the error surfaces to the dispatcher, which logs and
// moves on.
type AMQPSink struct {
	url   string
	queue string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPSink dials the broker and declares the queue.
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	sink := &AMQPSink{url: url, queue: queue}
	if err := sink.connect(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue %q: %w", s.queue, err)
	}
	s.conn = conn
	s.channel = channel
	return nil
}

// Publish sends the event, reconnecting once when the channel has gone away.
func (s *AMQPSink) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.publishLocked(ctx, body); err == nil {
		return nil
	}
	if err := s.reconnectLocked(); err != nil {
		return err
	}
	return s.publishLocked(ctx, body)
}

func (s *AMQPSink) publishLocked(ctx context.Context, body []byte) error {
	if s.channel == nil || s.channel.IsClosed() {
		return amqp.ErrClosed
	}
	return s.channel.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (s *AMQPSink) reconnectLocked() error {
	s.closeLocked()
	return s.connect()
}

// Close shuts down the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *AMQPSink) closeLocked() {
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
