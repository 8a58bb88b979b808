// Package events publishes order lifecycle events to Kafka for downstream
// consumers (notifications, analytics). Publishing is best-effort: a broker
// outage never fails the originating request.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderCancelled     = "order.cancelled"
)

type OrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	UserID     int64     `json:"user_id"`
	Status     string    `json:"status"`
	Total      string    `json:"total,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewPublisher returns a publisher wired to the given brokers, or a no-op
// publisher when brokers is empty.
func NewPublisher(brokers []string, topic string, logger zerolog.Logger) *Publisher {
	if len(brokers) == 0 {
		return &Publisher{logger: logger}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Publisher{writer: writer, logger: logger}
}

// Publish emits an event keyed by order id. Failures are logged and dropped.
func (p *Publisher) Publish(ctx context.Context, event OrderEvent) {
	if p.writer == nil {
		return
	}

	event.OccurredAt = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("order_id", event.OrderID).Msg("marshal order event")
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		p.logger.Error().Err(err).
			Str("order_id", event.OrderID).
			Str("type", event.Type).
			Msg("publish order event")
	}
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
