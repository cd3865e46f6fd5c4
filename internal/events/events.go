package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Order lifecycle event types.
const (
	OrderCreated       = "order.created"
	OrderPaid          = "order.paid"
	OrderPaymentFailed = "order.payment_failed"
	OrderStatusChanged = "order.status_changed"
	OrderCancelled     = "order.cancelled"
)

// Event is the message published for every committed order transition.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	OwnerID    string    `json:"ownerId"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers order events to downstream consumers (notifications,
// reconciliation, reporting).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured and a
// log-only publisher otherwise.
func New(brokers []string, topic string, logger *zap.Logger) Publisher {
	if len(brokers) == 0 {
		return &logPublisher{logger: logger}
	}
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return e
}

// ── Kafka ─────────────────────────────────────────────────────────────────────

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
}

func (p *kafkaPublisher) Publish(ctx context.Context, e Event) error {
	e = stamp(e)
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	// keyed by order so one order's events stay ordered within a partition
	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error { return p.writer.Close() }

// ── Log only ──────────────────────────────────────────────────────────────────

type logPublisher struct {
	logger *zap.Logger
}

func (p *logPublisher) Publish(_ context.Context, e Event) error {
	e = stamp(e)
	p.logger.Info("order_event",
		zap.String("event_id", e.ID),
		zap.String("type", e.Type),
		zap.String("order_id", e.OrderID),
		zap.String("status", e.Status),
		zap.String("reason", e.Reason),
	)
	return nil
}

func (p *logPublisher) Close() error { return nil }
