// Package amqp publishes domain events to a RabbitMQ topic exchange. The
// routing key is the event type.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"roster/internal/events"
)

const (
	DefaultExchange = "events"
	exchangeKind    = "topic"
)

type Sink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewSink(url, exchange string) (*Sink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}

	return &Sink{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends the batch and waits for broker confirms.
func (s *Sink) Publish(ctx context.Context, batch []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirms := make([]*amqp.DeferredConfirmation, 0, len(batch))
	for _, e := range batch {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		dc, err := s.channel.PublishWithDeferredConfirmWithContext(ctx,
			s.exchange,
			string(e.Type),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    e.ID.String(),
				Timestamp:    e.OccurredAt,
				Type:         string(e.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish message: %w", err)
		}
		confirms = append(confirms, dc)
	}
	for _, dc := range confirms {
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("wait for confirm: %w", err)
		}
		if !ok {
			return fmt.Errorf("message %d nacked by broker", dc.DeliveryTag)
		}
	}
	return nil
}

func (s *Sink) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
